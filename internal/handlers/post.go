package handlers

import (
	"net/http"

	"townsquare/internal/middleware"
	"townsquare/internal/services"

	"github.com/gin-gonic/gin"
)

type PostHandler struct {
	posts *services.PostService
}

func NewPostHandler(svc *services.Services) *PostHandler {
	return &PostHandler{posts: svc.Posts}
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

// ListCommunity ?sort=hot|new|top&limit=&cursor=
func (h *PostHandler) ListCommunity(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	page, err := h.posts.GetPosts(c.Request.Context(), services.PostListParams{
		CommunityID: id,
		Sort:        c.Query("sort"),
		Limit:       queryInt(c, "limit"),
		Cursor:      c.Query("cursor"),
		UserID:      middleware.CurrentUserID(c),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, page)
}

func (h *PostHandler) ListPublic(c *gin.Context) {
	page, err := h.posts.GetPublicPosts(c.Request.Context(), services.PublicPostParams{
		Sort:   c.Query("sort"),
		Limit:  queryInt(c, "limit"),
		Cursor: c.Query("cursor"),
		UserID: middleware.CurrentUserID(c),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, page)
}

func (h *PostHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	post, err := h.posts.GetPostByID(c.Request.Context(), id, middleware.CurrentUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, post)
}

func (h *PostHandler) GetBySlug(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	post, err := h.posts.GetPostBySlug(c.Request.Context(), id, c.Param("slug"), middleware.CurrentUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, post)
}

func (h *PostHandler) Create(c *gin.Context) {
	var in services.CreatePostInput
	if !bindJSON(c, &in) {
		return
	}
	// 路径中的社区优先
	if c.Param("id") != "" {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		in.CommunityID = id
	}
	post, err := h.posts.CreatePost(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusCreated, post)
}

func (h *PostHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in services.UpdatePostInput
	if !bindJSON(c, &in) {
		return
	}
	post, err := h.posts.UpdatePost(c.Request.Context(), middleware.CurrentUserID(c), id, in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, post)
}

func (h *PostHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.posts.DeletePost(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

func (h *PostHandler) Pin(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req pinRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.posts.SetPinned(c.Request.Context(), middleware.CurrentUserID(c), id, req.Pinned); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, gin.H{"pinned": req.Pinned})
}
