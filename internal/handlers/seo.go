package handlers

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"townsquare/internal/services"
	"townsquare/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	sitemapCommunities = 200
	feedItems          = 20
)

type SEOHandler struct {
	communities *services.CommunityService
	posts       *services.PostService
	siteURL     string
	now         func() time.Time
}

func NewSEOHandler(svc *services.Services, siteURL string) *SEOHandler {
	return &SEOHandler{communities: svc.Communities, posts: svc.Posts, siteURL: siteURL, now: time.Now}
}

// RobotsTxt API 和登录后的页面不需要被抓取
func (h *SEOHandler) RobotsTxt(c *gin.Context) {
	content := fmt.Sprintf(`User-agent: *
Allow: /
Disallow: /api/
Disallow: /metrics

Sitemap: %s/sitemap.xml
`, h.siteURL)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, content)
}

type sitemapURL struct {
	Loc        string  `xml:"loc"`
	LastMod    string  `xml:"lastmod,omitempty"`
	ChangeFreq string  `xml:"changefreq,omitempty"`
	Priority   float64 `xml:"priority,omitempty"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// SitemapXML 首页、公开社区和最新的公开帖子
func (h *SEOHandler) SitemapXML(c *gin.Context) {
	ctx := c.Request.Context()
	today := h.now().Format("2006-01-02")
	set := urlSet{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	set.URLs = append(set.URLs, sitemapURL{Loc: h.siteURL + "/", LastMod: today, ChangeFreq: "hourly", Priority: 1.0})

	communities, err := h.communities.ListPublic(ctx, sitemapCommunities, "")
	if err != nil {
		Fail(c, err)
		return
	}
	for _, cm := range communities.Items {
		set.URLs = append(set.URLs, sitemapURL{Loc: h.siteURL + "/c/" + cm.Slug, LastMod: today, ChangeFreq: "daily", Priority: 0.8})
	}

	posts, err := h.posts.GetPublicPosts(ctx, services.PublicPostParams{Sort: string(services.SortNew)})
	if err != nil {
		Fail(c, err)
		return
	}
	for _, p := range posts.Items {
		// 一周内的帖子更新更频繁
		freq, priority := "weekly", 0.6
		if h.now().Sub(p.CreatedAt) < 7*24*time.Hour {
			freq, priority = "daily", 0.7
		}
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        fmt.Sprintf("%s/c/%s/p/%s", h.siteURL, p.CommunitySlug, p.Slug),
			LastMod:    p.UpdatedAt.Format("2006-01-02"),
			ChangeFreq: freq,
			Priority:   priority,
		})
	}

	writeXML(c, "application/xml; charset=utf-8", set)
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Author      string `xml:"author"`
	Category    string `xml:"category"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Items         []rssItem `xml:"item"`
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

// RSSFeed 公开社区的热门帖子
func (h *SEOHandler) RSSFeed(c *gin.Context) {
	posts, err := h.posts.GetPublicPosts(c.Request.Context(), services.PublicPostParams{Sort: string(services.SortHot), Limit: feedItems})
	if err != nil {
		Fail(c, err)
		return
	}

	feed := rssFeed{Version: "2.0", Channel: rssChannel{
		Title:         "Townsquare",
		Link:          h.siteURL,
		Description:   "Hot posts from public communities",
		LastBuildDate: h.now().Format(time.RFC1123Z),
	}}
	for _, p := range posts.Items {
		link := fmt.Sprintf("%s/c/%s/p/%s", h.siteURL, p.CommunitySlug, p.Slug)
		feed.Channel.Items = append(feed.Channel.Items, rssItem{
			Title:       p.Title,
			Link:        link,
			Description: utils.Excerpt(utils.SanitizeText(string(p.ContentHTML)), 300),
			Author:      p.AuthorName,
			Category:    p.CommunitySlug,
			PubDate:     p.CreatedAt.Format(time.RFC1123Z),
			GUID:        link,
		})
	}

	writeXML(c, "application/rss+xml; charset=utf-8", feed)
}

func writeXML(c *gin.Context, contentType string, v any) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		Fail(c, services.Internal("encode xml", err))
		return
	}
	c.Data(http.StatusOK, contentType, append([]byte(xml.Header), out...))
}
