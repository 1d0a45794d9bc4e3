package models

import (
	"time"
)

type Community struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Slug        string    `gorm:"uniqueIndex;size:80;not null" json:"slug"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	IsPublic    bool      `gorm:"not null" json:"isPublic"`
	OwnerID     uint      `gorm:"not null;index" json:"ownerId"`
	Owner       User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// 成员角色，数据库中以字符串保存
const (
	RoleMember    = "member"
	RoleModerator = "moderator"
	RoleOwner     = "owner"
)

type Membership struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CommunityID uint      `gorm:"not null;uniqueIndex:idx_membership_community_user" json:"communityId"`
	Community   Community `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID      uint      `gorm:"not null;uniqueIndex:idx_membership_community_user;index" json:"userId"`
	User        User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"user"`
	Role        string    `gorm:"size:20;not null;default:'member'" json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Invite struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	CommunityID uint       `gorm:"not null;index" json:"communityId"`
	Community   Community  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Email       string     `gorm:"size:255;not null;index" json:"email"`
	Token       string     `gorm:"uniqueIndex;size:36;not null" json:"-"`
	InvitedByID uint       `gorm:"not null" json:"invitedById"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
