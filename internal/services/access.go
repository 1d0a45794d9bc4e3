package services

import (
	"context"
	"errors"

	"townsquare/internal/models"

	"gorm.io/gorm"
)

// Role 社区内的权限等级，可以直接比较大小
type Role int

const (
	RoleNone Role = iota
	RoleMember
	RoleModerator
	RoleOwner
)

func ParseRole(s string) Role {
	switch s {
	case models.RoleOwner:
		return RoleOwner
	case models.RoleModerator:
		return RoleModerator
	case models.RoleMember:
		return RoleMember
	default:
		return RoleNone
	}
}

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return models.RoleOwner
	case RoleModerator:
		return models.RoleModerator
	case RoleMember:
		return models.RoleMember
	default:
		return "none"
	}
}

// Access 统一的权限判断入口
type Access struct {
	db *gorm.DB
}

func NewAccess(db *gorm.DB) *Access {
	return &Access{db: db}
}

// Resolve 查询用户在社区中的角色，未登录或非成员返回 RoleNone
func (a *Access) Resolve(ctx context.Context, userID, communityID uint) (Role, error) {
	return resolveRole(a.db.WithContext(ctx), userID, communityID)
}

func resolveRole(tx *gorm.DB, userID, communityID uint) (Role, error) {
	if userID == 0 {
		return RoleNone, nil
	}
	var m models.Membership
	err := tx.Select("role").Where("community_id = ? AND user_id = ?", communityID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, Internal("resolve role", err)
	}
	return ParseRole(m.Role), nil
}

// Require 角色不足时返回 Forbidden，msg 形如 "Only moderators can pin posts"
func (a *Access) Require(ctx context.Context, userID, communityID uint, min Role, msg string) (Role, error) {
	if userID == 0 {
		return RoleNone, Unauthorized("Please sign in first")
	}
	role, err := a.Resolve(ctx, userID, communityID)
	if err != nil {
		return RoleNone, err
	}
	if role < min {
		return role, Forbidden(msg)
	}
	return role, nil
}

// CanRead 公开社区所有人可读，私有社区仅成员可读
func (a *Access) CanRead(ctx context.Context, userID uint, community *models.Community) error {
	if community.IsPublic {
		return nil
	}
	role, err := a.Resolve(ctx, userID, community.ID)
	if err != nil {
		return err
	}
	if role < RoleMember {
		return Forbidden("Only members can view this community")
	}
	return nil
}

// CanModerate 作者本人或版主以上
func (a *Access) CanModerate(ctx context.Context, userID, authorID, communityID uint, msg string) error {
	if userID == 0 {
		return Unauthorized("Please sign in first")
	}
	if userID == authorID {
		return nil
	}
	_, err := a.Require(ctx, userID, communityID, RoleModerator, msg)
	return err
}

func loadCommunity(tx *gorm.DB, id uint) (*models.Community, error) {
	var c models.Community
	if err := tx.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("Community not found")
		}
		return nil, Internal("load community", err)
	}
	return &c, nil
}
