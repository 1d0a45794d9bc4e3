package models

import (
	"time"

	"gorm.io/gorm"
)

type Document struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CommunityID uint           `gorm:"not null;index;uniqueIndex:idx_document_community_slug" json:"communityId"`
	Community   Community      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Slug        string         `gorm:"size:120;not null;uniqueIndex:idx_document_community_slug" json:"slug"`
	Title       string         `gorm:"size:200;not null" json:"title"`
	Content     string         `gorm:"type:text;not null" json:"content"` // 编辑器产出的 JSON，原样保存
	Version     int            `gorm:"not null;default:1" json:"version"`
	CreatedByID uint           `gorm:"not null" json:"createdById"`
	UpdatedByID uint           `gorm:"not null" json:"updatedById"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

type DocumentVersion struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;uniqueIndex:idx_document_version" json:"documentId"`
	Document   Document  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Version    int       `gorm:"not null;uniqueIndex:idx_document_version" json:"version"`
	Title      string    `gorm:"size:200;not null" json:"title"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	AuthorID   uint      `gorm:"not null" json:"authorId"`
	Autosave   bool      `gorm:"not null;default:false" json:"autosave"`
	CreatedAt  time.Time `json:"createdAt"`
}
