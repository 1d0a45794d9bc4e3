package handlers

import (
	"context"
	"net/http"

	"townsquare/internal/middleware"
	"townsquare/internal/services"

	"github.com/gin-gonic/gin"
)

type VoteHandler struct {
	votes *services.VoteService
}

func NewVoteHandler(svc *services.Services) *VoteHandler {
	return &VoteHandler{votes: svc.Votes}
}

// value: 1 赞成，-1 反对，0 撤销
type voteRequest struct {
	Value *int `json:"value" binding:"required"`
}

func (h *VoteHandler) Post(c *gin.Context) {
	h.vote(c, h.votes.VotePost)
}

func (h *VoteHandler) Comment(c *gin.Context) {
	h.vote(c, h.votes.VoteComment)
}

type voteFunc func(ctx context.Context, userID, targetID uint, value int) (services.VoteResult, error)

func (h *VoteHandler) vote(c *gin.Context, apply voteFunc) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req voteRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := apply(c.Request.Context(), middleware.CurrentUserID(c), id, *req.Value)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, result)
}
