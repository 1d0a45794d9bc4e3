package router

import (
	"fmt"
	"html/template"
	"time"

	"townsquare/internal/web"

	"github.com/gin-contrib/multitemplate"
)

// 每个页面单独一套模板：layout + 页面本身
var pages = []string{"feed.html", "community.html", "post.html", "error.html"}

var funcMap = template.FuncMap{
	"add": func(a, b int) int { return a + b },
	"sub": func(a, b int) int { return a - b },
	"timeAgo": func(t time.Time) string {
		return timeAgo(time.Since(t))
	},
}

func timeAgo(d time.Duration) string {
	seconds := int(d.Seconds())
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return plural(seconds/60, "minute")
	case seconds < 86400:
		return plural(seconds/3600, "hour")
	case seconds < 2592000:
		return plural(seconds/86400, "day")
	case seconds < 31536000:
		return plural(seconds/2592000, "month")
	}
	return plural(seconds/31536000, "year")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func loadTemplates() (multitemplate.Renderer, error) {
	r := multitemplate.NewRenderer()
	for _, page := range pages {
		tmpl, err := template.New(page).Funcs(funcMap).ParseFS(web.FS,
			"templates/pages/layout.html",
			"templates/pages/"+page,
		)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", page, err)
		}
		r.Add(page, tmpl)
	}
	return r, nil
}
