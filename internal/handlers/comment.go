package handlers

import (
	"net/http"

	"townsquare/internal/middleware"
	"townsquare/internal/services"

	"github.com/gin-gonic/gin"
)

type CommentHandler struct {
	comments *services.CommentService
}

func NewCommentHandler(svc *services.Services) *CommentHandler {
	return &CommentHandler{comments: svc.Comments}
}

// List 顶层评论分页，每条附带回复树
func (h *CommentHandler) List(c *gin.Context) {
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	page, err := h.comments.GetPostComments(c.Request.Context(), services.CommentListParams{
		PostID: postID,
		Sort:   c.Query("sort"),
		UserID: middleware.CurrentUserID(c),
		Limit:  queryInt(c, "limit"),
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, page)
}

func (h *CommentHandler) Replies(c *gin.Context) {
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	parentID, ok := paramID(c, "commentId")
	if !ok {
		return
	}
	page, err := h.comments.GetCommentReplies(c.Request.Context(), services.ReplyListParams{
		PostID:   postID,
		ParentID: parentID,
		Sort:     c.Query("sort"),
		UserID:   middleware.CurrentUserID(c),
		Limit:    queryInt(c, "limit"),
		Cursor:   c.Query("cursor"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, page)
}

func (h *CommentHandler) Create(c *gin.Context) {
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in services.CreateCommentInput
	if !bindJSON(c, &in) {
		return
	}
	in.PostID = postID
	node, err := h.comments.CreateComment(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusCreated, node)
}

func (h *CommentHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.comments.DeleteComment(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}
