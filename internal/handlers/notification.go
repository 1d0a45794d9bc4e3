package handlers

import (
	"net/http"

	"townsquare/internal/middleware"
	"townsquare/internal/services"

	"github.com/gin-gonic/gin"
)

const notificationPageSize = 50

type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(svc *services.Services) *NotificationHandler {
	return &NotificationHandler{notifications: svc.Notifications}
}

func (h *NotificationHandler) List(c *gin.Context) {
	list, err := h.notifications.List(c.Request.Context(), middleware.CurrentUserID(c), notificationPageSize)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, list)
}

func (h *NotificationHandler) Read(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

func (h *NotificationHandler) ReadAll(c *gin.Context) {
	if err := h.notifications.MarkAllRead(c.Request.Context(), middleware.CurrentUserID(c)); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}
