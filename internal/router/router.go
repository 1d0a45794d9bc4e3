package router

import (
	"net/http"

	"townsquare/internal/chat"
	"townsquare/internal/handlers"
	"townsquare/internal/middleware"
	"townsquare/internal/services"
	"townsquare/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionName = "townsquare_session"

// Deps 组装路由所需的全部依赖
type Deps struct {
	Services      *services.Services
	Hub           *chat.Hub
	Tokens        *utils.TokenIssuer
	Captcha       *services.CaptchaService
	SessionSecret string
	SiteURL       string
	SecureCookie  bool
}

func New(d Deps) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.Metrics())

	store := cookie.NewStore([]byte(d.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 3600,
		HttpOnly: true,
		Secure:   d.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))

	renderer, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	r.HTMLRender = renderer

	r.Use(middleware.LoadUser(d.Services.Users, d.Services.Notifications, d.Tokens))
	RegisterRoutes(r, d)
	return r, nil
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	svc := d.Services
	authHandler := handlers.NewAuthHandler(svc, d.Captcha, d.Tokens)
	communityHandler := handlers.NewCommunityHandler(svc)
	postHandler := handlers.NewPostHandler(svc)
	voteHandler := handlers.NewVoteHandler(svc)
	commentHandler := handlers.NewCommentHandler(svc)
	eventHandler := handlers.NewEventHandler(svc)
	documentHandler := handlers.NewDocumentHandler(svc)
	channelHandler := handlers.NewChannelHandler(svc, d.Hub)
	notificationHandler := handlers.NewNotificationHandler(svc)
	pageHandler := handlers.NewPageHandler(svc)
	seoHandler := handlers.NewSEOHandler(svc, d.SiteURL)
	userHandler := handlers.NewUserHandler(svc)

	// 页面
	r.GET("/", pageHandler.Home)                     // 公开帖子流
	r.GET("/c/:slug", pageHandler.Community)         // 社区首页
	r.GET("/c/:slug/p/:post", pageHandler.Post)      // 帖子详情与评论树
	r.GET("/robots.txt", seoHandler.RobotsTxt)       // robots.txt
	r.GET("/sitemap.xml", seoHandler.SitemapXML)     // sitemap
	r.GET("/feed.xml", seoHandler.RSSFeed)           // RSS
	r.GET("/metrics", gin.WrapH(promhttp.Handler())) // prometheus
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.NoRoute(pageHandler.NotFound)

	api := r.Group("/api")

	// 公共接口
	api.GET("/auth/captcha", authHandler.Captcha)    // 注册验证码
	api.POST("/auth/register", authHandler.Register) // 注册
	api.POST("/auth/login", authHandler.Login)       // 登录
	api.POST("/auth/logout", authHandler.Logout)     // 退出

	api.GET("/posts", postHandler.ListPublic)                                 // 公开社区帖子流
	api.GET("/posts/:id", postHandler.Get)                                    // 帖子详情
	api.GET("/posts/:id/comments", commentHandler.List)                       // 顶层评论
	api.GET("/posts/:id/comments/:commentId/replies", commentHandler.Replies) // 某条评论的回复
	api.GET("/communities", communityHandler.List)                            // 公开社区
	api.GET("/communities/:id", communityHandler.Get)                         // 社区详情，参数为 slug
	api.GET("/communities/:id/posts", postHandler.ListCommunity)              // 社区帖子流
	api.GET("/communities/:id/posts/by-slug/:slug", postHandler.GetBySlug)    // 按 slug 查帖子
	api.GET("/communities/:id/events", eventHandler.List)                     // 社区活动
	api.GET("/communities/:id/documents", documentHandler.List)               // 社区文档
	api.GET("/communities/:id/channels", channelHandler.List)                 // 社区频道
	api.GET("/communities/:id/members", communityHandler.Members)             // 成员列表
	api.GET("/users/:id", userHandler.Profile)                                // 用户主页
	api.GET("/events/:id", eventHandler.Get)                                  // 活动详情
	api.GET("/documents/:id", documentHandler.Get)                            // 文档详情
	api.GET("/documents/:id/versions", documentHandler.Versions)              // 历史版本
	api.GET("/channels/:id/messages", channelHandler.Messages)                // 频道消息

	// 需要登录
	authorized := api.Group("")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.GET("/me", authHandler.Me)             // 当前用户
		authorized.PUT("/me", userHandler.UpdateSettings) // 修改资料

		authorized.POST("/communities", communityHandler.Create)                             // 创建社区
		authorized.POST("/communities/:id/join", communityHandler.Join)                      // 加入
		authorized.POST("/communities/:id/leave", communityHandler.Leave)                    // 退出
		authorized.POST("/communities/:id/invites", communityHandler.Invite)                 // 邀请
		authorized.POST("/invites/:token/accept", communityHandler.AcceptInvite)             // 接受邀请
		authorized.PUT("/communities/:id/members/:userId/role", communityHandler.SetRole)    // 设置角色
		authorized.DELETE("/communities/:id/members/:userId", communityHandler.RemoveMember) // 移除成员

		authorized.POST("/communities/:id/posts", postHandler.Create) // 发帖
		authorized.POST("/posts", postHandler.Create)                 // 发帖，社区在请求体中
		authorized.PUT("/posts/:id", postHandler.Update)              // 编辑帖子
		authorized.DELETE("/posts/:id", postHandler.Delete)           // 删除帖子
		authorized.POST("/posts/:id/pin", postHandler.Pin)            // 置顶
		authorized.POST("/posts/:id/vote", voteHandler.Post)          // 帖子投票

		authorized.POST("/posts/:id/comments", commentHandler.Create) // 评论/回复
		authorized.DELETE("/comments/:id", commentHandler.Delete)     // 删除评论
		authorized.POST("/comments/:id/vote", voteHandler.Comment)    // 评论投票

		authorized.POST("/communities/:id/events", eventHandler.Create)                     // 创建活动
		authorized.PUT("/events/:id", eventHandler.Update)                                  // 编辑活动
		authorized.POST("/events/:id/sessions", eventHandler.AddSession)                    // 添加场次
		authorized.DELETE("/sessions/:sessionId", eventHandler.DeleteSession)               // 删除场次
		authorized.POST("/sessions/:sessionId/rsvp", eventHandler.RSVP)                     // 报名
		authorized.POST("/events/:id/organizers", eventHandler.AddCoOrganizer)              // 添加协办人
		authorized.DELETE("/events/:id/organizers/:userId", eventHandler.RemoveCoOrganizer) // 移除协办人

		authorized.POST("/communities/:id/documents", documentHandler.Create)                // 创建文档
		authorized.POST("/documents/:id/lock", documentHandler.Lock)                         // 获取编辑锁
		authorized.POST("/documents/:id/lock/refresh", documentHandler.RefreshLock)          // 续期
		authorized.DELETE("/documents/:id/lock", documentHandler.Unlock)                     // 释放
		authorized.PUT("/documents/:id", documentHandler.Save)                               // 保存
		authorized.POST("/documents/:id/versions/:version/restore", documentHandler.Restore) // 恢复版本
		authorized.DELETE("/documents/:id", documentHandler.Delete)                          // 删除文档

		authorized.POST("/channels/:id/messages", channelHandler.Post) // 发消息
		authorized.GET("/channels/:id/ws", channelHandler.Connect)     // 实时连接

		authorized.GET("/notifications", notificationHandler.List)              // 我的通知
		authorized.POST("/notifications/:id/read", notificationHandler.Read)    // 标记已读
		authorized.POST("/notifications/read-all", notificationHandler.ReadAll) // 全部已读
		authorized.DELETE("/notifications/:id", notificationHandler.Delete)     // 删除通知
	}
}
