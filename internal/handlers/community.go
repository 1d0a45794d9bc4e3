package handlers

import (
	"net/http"

	"townsquare/internal/middleware"
	"townsquare/internal/services"

	"github.com/gin-gonic/gin"
)

type CommunityHandler struct {
	communities *services.CommunityService
}

func NewCommunityHandler(svc *services.Services) *CommunityHandler {
	return &CommunityHandler{communities: svc.Communities}
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *CommunityHandler) Create(c *gin.Context) {
	var in services.CreateCommunityInput
	if !bindJSON(c, &in) {
		return
	}
	community, err := h.communities.CreateCommunity(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusCreated, community)
}

// List 公开社区，按创建时间倒序分页
func (h *CommunityHandler) List(c *gin.Context) {
	page, err := h.communities.ListPublic(c.Request.Context(), queryInt(c, "limit"), c.Query("cursor"))
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, page)
}

// Get 路径参数是社区 slug，与其它社区路由共用 :id 位置
func (h *CommunityHandler) Get(c *gin.Context) {
	community, err := h.communities.GetBySlug(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, community)
}

func (h *CommunityHandler) Join(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.communities.Join(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

func (h *CommunityHandler) Leave(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.communities.Leave(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

func (h *CommunityHandler) Members(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	members, err := h.communities.ListMembers(c.Request.Context(), middleware.CurrentUserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, members)
}

func (h *CommunityHandler) Invite(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in services.InviteInput
	if !bindJSON(c, &in) {
		return
	}
	invite, err := h.communities.Invite(c.Request.Context(), middleware.CurrentUserID(c), id, in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusCreated, invite)
}

func (h *CommunityHandler) AcceptInvite(c *gin.Context) {
	community, err := h.communities.AcceptInvite(c.Request.Context(), middleware.CurrentUserID(c), c.Param("token"))
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, community)
}

func (h *CommunityHandler) SetRole(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := paramID(c, "userId")
	if !ok {
		return
	}
	var req roleRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.communities.SetRole(c.Request.Context(), middleware.CurrentUserID(c), id, userID, req.Role); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

func (h *CommunityHandler) RemoveMember(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := paramID(c, "userId")
	if !ok {
		return
	}
	if err := h.communities.RemoveMember(c.Request.Context(), middleware.CurrentUserID(c), id, userID); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}
