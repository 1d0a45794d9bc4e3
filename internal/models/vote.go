package models

import (
	"time"
)

// Vote 每个用户对每个帖子/评论最多一条记录，Value 取 -1、0、1
type Vote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_vote_user_post;uniqueIndex:idx_vote_user_comment" json:"userId"`
	PostID    *uint     `gorm:"uniqueIndex:idx_vote_user_post;index" json:"postId"`
	CommentID *uint     `gorm:"uniqueIndex:idx_vote_user_comment;index" json:"commentId"`
	Value     int       `gorm:"not null" json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
