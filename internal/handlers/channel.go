package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"townsquare/internal/chat"
	"townsquare/internal/middleware"
	"townsquare/internal/services"

	"github.com/gin-gonic/gin"
)

type ChannelHandler struct {
	channels *services.ChannelService
	hub      *chat.Hub
}

func NewChannelHandler(svc *services.Services, hub *chat.Hub) *ChannelHandler {
	return &ChannelHandler{channels: svc.Channels, hub: hub}
}

type messageRequest struct {
	Body string `json:"body"`
}

func (h *ChannelHandler) List(c *gin.Context) {
	communityID, ok := paramID(c, "id")
	if !ok {
		return
	}
	channels, err := h.channels.ListChannels(c.Request.Context(), middleware.CurrentUserID(c), communityID)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, channels)
}

func (h *ChannelHandler) Messages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	page, err := h.channels.ListMessages(c.Request.Context(), middleware.CurrentUserID(c), id, queryInt(c, "limit"), c.Query("cursor"))
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, page)
}

// Post 无 websocket 的客户端也可以发消息，在线连接同样会收到推送
func (h *ChannelHandler) Post(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req messageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.channels.PostMessage(c.Request.Context(), middleware.CurrentUserID(c), id, req.Body)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusCreated, msg)
}

// Connect 校验成员身份后升级为 websocket
func (h *ChannelHandler) Connect(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID := middleware.CurrentUserID(c)
	if _, err := h.channels.Authorize(c.Request.Context(), userID, id); err != nil {
		Fail(c, err)
		return
	}

	conn, err := chat.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "channel_id", id, "error", err)
		return
	}
	// 连接的生命周期不跟随请求 context
	chat.NewClient(h.hub, conn, h.channels, id, userID).Serve(context.WithoutCancel(c.Request.Context()))
}
