package handlers

import (
	"net/http"
	"strings"

	"townsquare/internal/middleware"
	"townsquare/internal/services"

	"github.com/gin-gonic/gin"
)

const sidebarCommunities = 20

// PageHandler 服务端渲染的页面，数据与 API 共用同一套 service
type PageHandler struct {
	communities *services.CommunityService
	posts       *services.PostService
	comments    *services.CommentService
	events      *services.EventService
}

func NewPageHandler(svc *services.Services) *PageHandler {
	return &PageHandler{
		communities: svc.Communities,
		posts:       svc.Posts,
		comments:    svc.Comments,
		events:      svc.Events,
	}
}

// Home 公开社区的帖子流
func (h *PageHandler) Home(c *gin.Context) {
	ctx := c.Request.Context()
	sort := services.ParsePostSort(c.Query("sort"))
	posts, err := h.posts.GetPublicPosts(ctx, services.PublicPostParams{
		Sort:   string(sort),
		Cursor: c.Query("cursor"),
		UserID: middleware.CurrentUserID(c),
	})
	if err != nil {
		RenderError(c, err)
		return
	}
	communities, err := h.communities.ListPublic(ctx, sidebarCommunities, "")
	if err != nil {
		RenderError(c, err)
		return
	}
	Render(c, http.StatusOK, "feed.html", gin.H{
		"Title":       "Townsquare",
		"Sort":        string(sort),
		"Posts":       posts,
		"Communities": communities.Items,
	})
}

func (h *PageHandler) Community(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.CurrentUserID(c)
	community, err := h.communities.GetBySlug(ctx, c.Param("slug"), userID)
	if err != nil {
		RenderError(c, err)
		return
	}
	sort := services.ParsePostSort(c.Query("sort"))
	posts, err := h.posts.GetPosts(ctx, services.PostListParams{
		CommunityID: community.ID,
		Sort:        string(sort),
		Cursor:      c.Query("cursor"),
		UserID:      userID,
	})
	if err != nil {
		RenderError(c, err)
		return
	}
	events, err := h.events.ListEvents(ctx, userID, community.ID, true)
	if err != nil {
		RenderError(c, err)
		return
	}
	Render(c, http.StatusOK, "community.html", gin.H{
		"Title":     community.Name,
		"Community": community,
		"Sort":      string(sort),
		"Posts":     posts,
		"Events":    events,
	})
}

func (h *PageHandler) Post(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.CurrentUserID(c)
	community, err := h.communities.GetBySlug(ctx, c.Param("slug"), userID)
	if err != nil {
		RenderError(c, err)
		return
	}
	post, err := h.posts.GetPostBySlug(ctx, community.ID, c.Param("post"), userID)
	if err != nil {
		RenderError(c, err)
		return
	}
	comments, err := h.comments.GetPostComments(ctx, services.CommentListParams{
		PostID: post.ID,
		Sort:   c.Query("sort"),
		UserID: userID,
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		RenderError(c, err)
		return
	}
	Render(c, http.StatusOK, "post.html", gin.H{
		"Title":     post.Title,
		"Community": community,
		"Post":      post,
		"Comments":  comments,
	})
}

func (h *PageHandler) NotFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		Fail(c, services.NotFound("Not found"))
		return
	}
	RenderError(c, services.NotFound("Page not found"))
}
