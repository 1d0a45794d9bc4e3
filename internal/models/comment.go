package models

import (
	"time"
)

type Comment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;index" json:"postId"`
	Post      Post      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID    uint      `gorm:"not null;index" json:"authorId"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ParentID  *uint     `gorm:"index" json:"parentId"` // 顶层评论为 NULL
	Parent    *Comment  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Depth     int       `gorm:"not null;default:0" json:"depth"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	VoteScore int       `gorm:"not null;default:0" json:"voteScore"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	// 删除后保留节点，子回复仍挂在它下面
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}
