package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"townsquare/internal/lease"
	"townsquare/internal/models"

	"gorm.io/gorm"
)

type DocumentService struct {
	*core
}

type DocumentView struct {
	models.Document
	LockedBy      string     `json:"lockedBy,omitempty"`
	LockedByID    uint       `json:"lockedById,omitempty"`
	LockExpiresAt *time.Time `json:"lockExpiresAt,omitempty"`
}

type CreateDocumentInput struct {
	CommunityID uint   `json:"communityId" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	Content     string `json:"content" validate:"max=1000000"`
}

type SaveDocumentInput struct {
	DocumentID  uint   `json:"documentId" validate:"required"`
	BaseVersion int    `json:"baseVersion" validate:"required,min=1"`
	Title       string `json:"title" validate:"max=200"`
	Content     string `json:"content" validate:"required,max=1000000"`
	Autosave    bool   `json:"autosave"`
}

func documentResource(id uint) string { return fmt.Sprintf("document:%d", id) }
func holderFor(userID uint) string    { return fmt.Sprintf("user:%d", userID) }

func holderUserID(holder string) uint {
	var id uint
	if _, err := fmt.Sscanf(holder, "user:%d", &id); err != nil {
		return 0
	}
	return id
}

func validContent(content string) error {
	if !json.Valid([]byte(content)) {
		return Validation("Document content must be valid JSON")
	}
	return nil
}

// CreateDocument 创建时写入第 1 版快照
func (s *DocumentService) CreateDocument(ctx context.Context, userID uint, in CreateDocumentInput) (*DocumentView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Content == "" {
		in.Content = "{}"
	}
	if err := check(in); err != nil {
		return nil, err
	}
	if err := validContent(in.Content); err != nil {
		return nil, err
	}
	if _, err := loadCommunity(s.db.WithContext(ctx), in.CommunityID); err != nil {
		return nil, err
	}
	if _, err := s.access.Require(ctx, userID, in.CommunityID, RoleMember, "Only members can create documents"); err != nil {
		return nil, err
	}

	docSlug, err := uniqueSlug(s.db.WithContext(ctx).Unscoped().Model(&models.Document{}).Where("community_id = ?", in.CommunityID), in.Title, "document")
	if err != nil {
		return nil, err
	}

	doc := models.Document{
		CommunityID: in.CommunityID,
		Slug:        docSlug,
		Title:       in.Title,
		Content:     in.Content,
		Version:     1,
		CreatedByID: userID,
		UpdatedByID: userID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		return tx.Create(&models.DocumentVersion{
			DocumentID: doc.ID,
			Version:    1,
			Title:      doc.Title,
			Content:    doc.Content,
			AuthorID:   userID,
		}).Error
	})
	if err != nil {
		return nil, Internal("create document", err)
	}
	return &DocumentView{Document: doc}, nil
}

func (s *DocumentService) loadDocument(ctx context.Context, id uint) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).Preload("Community").First(&doc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Document not found")
	}
	if err != nil {
		return nil, Internal("load document", err)
	}
	return &doc, nil
}

// GetDocument 附带当前编辑锁信息
func (s *DocumentService) GetDocument(ctx context.Context, userID, docID uint) (*DocumentView, error) {
	doc, err := s.loadDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanRead(ctx, userID, &doc.Community); err != nil {
		return nil, err
	}

	view := &DocumentView{Document: *doc}
	l, ok, err := s.leases.Current(ctx, documentResource(docID))
	if err != nil {
		return nil, Internal("load document lock", err)
	}
	if ok {
		view.LockedByID = holderUserID(l.Holder)
		view.LockedBy = s.holderName(ctx, l.Holder)
		expires := l.ExpiresAt
		view.LockExpiresAt = &expires
	}
	return view, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context, userID, communityID uint) ([]models.Document, error) {
	community, err := loadCommunity(s.db.WithContext(ctx), communityID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanRead(ctx, userID, community); err != nil {
		return nil, err
	}
	var docs []models.Document
	err = s.db.WithContext(ctx).Omit("content").Where("community_id = ?", communityID).
		Order("updated_at DESC").Order("id DESC").Find(&docs).Error
	if err != nil {
		return nil, Internal("list documents", err)
	}
	return docs, nil
}

func (s *DocumentService) holderName(ctx context.Context, holder string) string {
	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "username").First(&user, holderUserID(holder)).Error; err != nil {
		return "another user"
	}
	return user.Username
}

func (s *DocumentService) editable(ctx context.Context, userID, docID uint) (*models.Document, error) {
	doc, err := s.loadDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.Require(ctx, userID, doc.CommunityID, RoleMember, "Only members can edit documents"); err != nil {
		return nil, err
	}
	return doc, nil
}

// Lock 获取编辑锁，本人已持有时相当于续期
func (s *DocumentService) Lock(ctx context.Context, userID, docID uint) (lease.Lease, error) {
	if _, err := s.editable(ctx, userID, docID); err != nil {
		return lease.Lease{}, err
	}
	l, err := s.leases.Acquire(ctx, documentResource(docID), holderFor(userID), s.leaseTTL)
	if err != nil {
		var held *lease.HeldError
		if errors.As(err, &held) {
			return lease.Lease{}, Conflict("This document is being edited by " + s.holderName(ctx, held.Holder))
		}
		return lease.Lease{}, Internal("lock document", err)
	}
	return l, nil
}

func (s *DocumentService) RefreshLock(ctx context.Context, userID, docID uint) (lease.Lease, error) {
	if userID == 0 {
		return lease.Lease{}, Unauthorized("Please sign in first")
	}
	l, err := s.leases.Renew(ctx, documentResource(docID), holderFor(userID), s.leaseTTL)
	if errors.Is(err, lease.ErrLost) {
		return lease.Lease{}, Conflict("Your edit lock has expired. Lock the document again to continue")
	}
	if err != nil {
		return lease.Lease{}, Internal("refresh document lock", err)
	}
	return l, nil
}

func (s *DocumentService) Unlock(ctx context.Context, userID, docID uint) error {
	if userID == 0 {
		return Unauthorized("Please sign in first")
	}
	if err := s.leases.Release(ctx, documentResource(docID), holderFor(userID)); err != nil {
		return Internal("unlock document", err)
	}
	return nil
}

// Save 需要持有编辑锁，并以编辑者读到的版本号做比较交换
func (s *DocumentService) Save(ctx context.Context, userID uint, in SaveDocumentInput) (*DocumentView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := check(in); err != nil {
		return nil, err
	}
	if err := validContent(in.Content); err != nil {
		return nil, err
	}
	doc, err := s.editable(ctx, userID, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if in.Title == "" {
		in.Title = doc.Title
	}
	return s.save(ctx, userID, doc, in)
}

func (s *DocumentService) save(ctx context.Context, userID uint, doc *models.Document, in SaveDocumentInput) (*DocumentView, error) {
	resource := documentResource(doc.ID)
	holds, err := s.leases.Holds(ctx, resource, holderFor(userID))
	if err != nil {
		return nil, Internal("check document lock", err)
	}
	if !holds {
		return nil, Conflict("Lock the document before editing")
	}

	next := in.BaseVersion + 1
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Document{}).
			Where("id = ? AND version = ?", doc.ID, in.BaseVersion).
			Updates(map[string]any{
				"title":         in.Title,
				"content":       in.Content,
				"version":       next,
				"updated_by_id": userID,
				"updated_at":    s.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return Conflict("This document was changed by someone else. Reload to continue")
		}
		return tx.Create(&models.DocumentVersion{
			DocumentID: doc.ID,
			Version:    next,
			Title:      in.Title,
			Content:    in.Content,
			AuthorID:   userID,
			Autosave:   in.Autosave,
		}).Error
	})
	if err != nil {
		return nil, wrapInternal("save document", err)
	}

	if _, err := s.leases.Renew(ctx, resource, holderFor(userID), s.leaseTTL); err != nil {
		slog.Warn("Failed to renew document lock after save", "document_id", doc.ID, "user_id", userID, "error", err)
	}

	doc.Title = in.Title
	doc.Content = in.Content
	doc.Version = next
	doc.UpdatedByID = userID
	return &DocumentView{Document: *doc}, nil
}

func (s *DocumentService) ListVersions(ctx context.Context, userID, docID uint) ([]models.DocumentVersion, error) {
	doc, err := s.loadDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanRead(ctx, userID, &doc.Community); err != nil {
		return nil, err
	}
	var versions []models.DocumentVersion
	if err := s.db.WithContext(ctx).Omit("content").Where("document_id = ?", docID).Order("version DESC").Find(&versions).Error; err != nil {
		return nil, Internal("list versions", err)
	}
	return versions, nil
}

// RestoreVersion 以旧版本内容生成新版本，规则与 Save 相同
func (s *DocumentService) RestoreVersion(ctx context.Context, userID, docID uint, version, baseVersion int) (*DocumentView, error) {
	doc, err := s.editable(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	var old models.DocumentVersion
	err = s.db.WithContext(ctx).Where("document_id = ? AND version = ?", docID, version).First(&old).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Version not found")
	}
	if err != nil {
		return nil, Internal("load version", err)
	}
	return s.save(ctx, userID, doc, SaveDocumentInput{
		DocumentID:  docID,
		BaseVersion: baseVersion,
		Title:       old.Title,
		Content:     old.Content,
	})
}

// DeleteDocument 软删除，同时清掉编辑锁
func (s *DocumentService) DeleteDocument(ctx context.Context, userID, docID uint) error {
	doc, err := s.loadDocument(ctx, docID)
	if err != nil {
		return err
	}
	if _, err := s.access.Require(ctx, userID, doc.CommunityID, RoleModerator, "Only moderators can delete documents"); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.Document{}, docID).Error; err != nil {
		return Internal("delete document", err)
	}
	if l, ok, err := s.leases.Current(ctx, documentResource(docID)); err == nil && ok {
		if err := s.leases.Release(ctx, l.Resource, l.Holder); err != nil {
			slog.Warn("Failed to release lock of deleted document", "document_id", docID, "error", err)
		}
	}
	return nil
}
