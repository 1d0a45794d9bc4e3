package handlers

import (
	"net/http"
	"strconv"

	"townsquare/internal/middleware"
	"townsquare/internal/services"

	"github.com/gin-gonic/gin"
)

type DocumentHandler struct {
	documents *services.DocumentService
}

func NewDocumentHandler(svc *services.Services) *DocumentHandler {
	return &DocumentHandler{documents: svc.Documents}
}

type restoreRequest struct {
	BaseVersion int `json:"baseVersion" binding:"required"`
}

func (h *DocumentHandler) Create(c *gin.Context) {
	communityID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in services.CreateDocumentInput
	if !bindJSON(c, &in) {
		return
	}
	in.CommunityID = communityID
	doc, err := h.documents.CreateDocument(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusCreated, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	communityID, ok := paramID(c, "id")
	if !ok {
		return
	}
	docs, err := h.documents.ListDocuments(c.Request.Context(), middleware.CurrentUserID(c), communityID)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	doc, err := h.documents.GetDocument(c.Request.Context(), middleware.CurrentUserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, doc)
}

// Lock 获取编辑租约，编辑器需在到期前调用 RefreshLock
func (h *DocumentHandler) Lock(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	l, err := h.documents.Lock(c.Request.Context(), middleware.CurrentUserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, l)
}

func (h *DocumentHandler) RefreshLock(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	l, err := h.documents.RefreshLock(c.Request.Context(), middleware.CurrentUserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, l)
}

func (h *DocumentHandler) Unlock(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.documents.Unlock(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}

func (h *DocumentHandler) Save(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in services.SaveDocumentInput
	if !bindJSON(c, &in) {
		return
	}
	in.DocumentID = id
	doc, err := h.documents.Save(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, doc)
}

func (h *DocumentHandler) Versions(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	versions, err := h.documents.ListVersions(c.Request.Context(), middleware.CurrentUserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, versions)
}

func (h *DocumentHandler) Restore(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		Fail(c, services.NotFound("Version not found"))
		return
	}
	var req restoreRequest
	if !bindJSON(c, &req) {
		return
	}
	doc, err := h.documents.RestoreVersion(c.Request.Context(), middleware.CurrentUserID(c), id, version, req.BaseVersion)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.documents.DeleteDocument(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusOK, nil)
}
