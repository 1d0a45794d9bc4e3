package handlers

import (
	"net/http"

	"townsquare/internal/middleware"
	"townsquare/internal/services"

	"github.com/gin-gonic/gin"
)

type EventHandler struct {
	events *services.EventService
}

func NewEventHandler(svc *services.Services) *EventHandler {
	return &EventHandler{events: svc.Events}
}

type rsvpRequest struct {
	Status string `json:"status" binding:"required"`
}

type userRequest struct {
	UserID uint `json:"userId" binding:"required"`
}

func (h *EventHandler) Create(c *gin.Context) {
	communityID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in services.CreateEventInput
	if !bindJSON(c, &in) {
		return
	}
	in.CommunityID = communityID
	event, err := h.events.CreateEvent(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusCreated, event)
}

// List ?upcoming=true 只返回还有未结束场次的活动
func (h *EventHandler) List(c *gin.Context) {
	communityID, ok := paramID(c, "id")
	if !ok {
		return
	}
	events, err := h.events.ListEvents(c.Request.Context(), middleware.CurrentUserID(c), communityID, c.Query("upcoming") == "true")
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, events)
}

func (h *EventHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	event, err := h.events.GetEvent(c.Request.Context(), middleware.CurrentUserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, event)
}

func (h *EventHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in services.UpdateEventInput
	if !bindJSON(c, &in) {
		return
	}
	event, err := h.events.UpdateEvent(c.Request.Context(), middleware.CurrentUserID(c), id, in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, event)
}

func (h *EventHandler) AddSession(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in services.SessionInput
	if !bindJSON(c, &in) {
		return
	}
	session, err := h.events.AddSession(c.Request.Context(), middleware.CurrentUserID(c), id, in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusCreated, session)
}

func (h *EventHandler) DeleteSession(c *gin.Context) {
	id, ok := paramID(c, "sessionId")
	if !ok {
		return
	}
	if err := h.events.DeleteSession(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

func (h *EventHandler) AddCoOrganizer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req userRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.events.AddCoOrganizer(c.Request.Context(), middleware.CurrentUserID(c), id, req.UserID); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

func (h *EventHandler) RemoveCoOrganizer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := paramID(c, "userId")
	if !ok {
		return
	}
	if err := h.events.RemoveCoOrganizer(c.Request.Context(), middleware.CurrentUserID(c), id, userID); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

// RSVP status: going | maybe | not_going
func (h *EventHandler) RSVP(c *gin.Context) {
	sessionID, ok := paramID(c, "sessionId")
	if !ok {
		return
	}
	var req rsvpRequest
	if !bindJSON(c, &req) {
		return
	}
	rsvp, err := h.events.RSVP(c.Request.Context(), middleware.CurrentUserID(c), sessionID, req.Status)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, rsvp)
}
