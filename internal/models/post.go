package models

import (
	"time"

	"gorm.io/gorm"
)

type Post struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CommunityID  uint      `gorm:"not null;index;uniqueIndex:idx_post_community_slug" json:"communityId"`
	Community    Community `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID       uint      `gorm:"not null;index" json:"authorId"`
	User         User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Slug         string    `gorm:"size:120;not null;uniqueIndex:idx_post_community_slug" json:"slug"`
	Title        string    `gorm:"size:200;not null" json:"title"`
	Content      string    `gorm:"type:text" json:"content"`
	VoteScore    int       `gorm:"not null;default:0;index" json:"voteScore"`
	HotRank      int64     `gorm:"not null;default:0;index" json:"-"` // voteScore*7200 + 发布时间戳，见 utils.HotRank
	IsPinned     bool      `gorm:"not null;default:false" json:"isPinned"`
	CommentCount int       `gorm:"not null;default:0" json:"commentCount"`
	CreatedAt    time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	// 软删除：默认查询自动排除
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt,omitempty"`
}
