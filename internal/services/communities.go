package services

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"townsquare/internal/models"
	"townsquare/internal/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const inviteTTL = 7 * 24 * time.Hour

type CommunityService struct {
	*core
}

type CreateCommunityInput struct {
	Name        string `json:"name" validate:"required,min=3,max=100"`
	Description string `json:"description" validate:"max=2000"`
	IsPublic    bool   `json:"isPublic"`
}

// CreateCommunity 创建者成为 owner，同时创建默认聊天频道
func (s *CommunityService) CreateCommunity(ctx context.Context, userID uint, in CreateCommunityInput) (*models.Community, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := check(in); err != nil {
		return nil, err
	}
	if userID == 0 {
		return nil, Unauthorized("Please sign in first")
	}

	communitySlug, err := uniqueSlug(s.db.WithContext(ctx).Model(&models.Community{}), in.Name, "community")
	if err != nil {
		return nil, err
	}

	community := models.Community{
		Slug:        communitySlug,
		Name:        in.Name,
		Description: in.Description,
		IsPublic:    in.IsPublic,
		OwnerID:     userID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&community).Error; err != nil {
			return err
		}
		owner := models.Membership{CommunityID: community.ID, UserID: userID, Role: models.RoleOwner}
		if err := tx.Create(&owner).Error; err != nil {
			return err
		}
		return tx.Create(&models.Channel{CommunityID: community.ID, Name: "general"}).Error
	})
	if err != nil {
		return nil, Internal("create community", err)
	}
	slog.Info("Community created", "community_id", community.ID, "slug", community.Slug, "owner_id", userID)
	return &community, nil
}

func (s *CommunityService) GetBySlug(ctx context.Context, communitySlug string, userID uint) (*models.Community, error) {
	var community models.Community
	err := s.db.WithContext(ctx).Where("slug = ?", communitySlug).First(&community).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Community not found")
	}
	if err != nil {
		return nil, Internal("load community", err)
	}
	if err := s.access.CanRead(ctx, userID, &community); err != nil {
		return nil, err
	}
	return &community, nil
}

// ListPublic 公开社区列表，最新创建的在前
func (s *CommunityService) ListPublic(ctx context.Context, limit int, cursor string) (pagination.Page[models.Community], error) {
	limit = pagination.ClampLimit(limit, defaultPageSize, s.maxLimit)
	q := s.db.WithContext(ctx).Model(&models.Community{}).Where("is_public = ?", true)
	if id, ok := pagination.ParseCursor(cursor); ok {
		q = pagination.After(q, pagination.Key{Column: "id", Value: id})
	}
	var items []models.Community
	if err := q.Order("id DESC").Limit(limit + 1).Find(&items).Error; err != nil {
		return pagination.Page[models.Community]{}, Internal("list communities", err)
	}
	return pagination.Window(items, limit, func(c models.Community) uint { return c.ID }), nil
}

type MemberView struct {
	UserID   uint      `json:"userId"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (s *CommunityService) ListMembers(ctx context.Context, userID, communityID uint) ([]MemberView, error) {
	community, err := loadCommunity(s.db.WithContext(ctx), communityID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanRead(ctx, userID, community); err != nil {
		return nil, err
	}

	var memberships []models.Membership
	if err := s.db.WithContext(ctx).Preload("User").Where("community_id = ?", communityID).
		Order("created_at ASC").Order("id ASC").Find(&memberships).Error; err != nil {
		return nil, Internal("list members", err)
	}
	out := make([]MemberView, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, MemberView{UserID: m.UserID, Username: m.User.Username, Avatar: m.User.Avatar, Role: m.Role, JoinedAt: m.CreatedAt})
	}
	return out, nil
}

// Join 只能加入公开社区，重复加入无副作用
func (s *CommunityService) Join(ctx context.Context, userID, communityID uint) error {
	if userID == 0 {
		return Unauthorized("Please sign in first")
	}
	community, err := loadCommunity(s.db.WithContext(ctx), communityID)
	if err != nil {
		return err
	}
	if !community.IsPublic {
		return Forbidden("This community is invite only")
	}
	if err := s.limiter.Allow(ActionJoin, userID); err != nil {
		return err
	}
	return s.addMember(s.db.WithContext(ctx), communityID, userID)
}

func (s *CommunityService) addMember(tx *gorm.DB, communityID, userID uint) error {
	m := models.Membership{CommunityID: communityID, UserID: userID, Role: models.RoleMember, CreatedAt: s.now()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return Internal("add member", err)
	}
	return nil
}

func (s *CommunityService) Leave(ctx context.Context, userID, communityID uint) error {
	role, err := s.access.Resolve(ctx, userID, communityID)
	if err != nil {
		return err
	}
	switch role {
	case RoleNone:
		return nil
	case RoleOwner:
		return Validation("The owner cannot leave the community")
	}
	return s.removeMembership(ctx, communityID, userID)
}

type InviteInput struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// Invite 版主以上可以邀请，邀请链接通过邮件发送
func (s *CommunityService) Invite(ctx context.Context, actorID, communityID uint, in InviteInput) (*models.Invite, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := check(in); err != nil {
		return nil, err
	}
	community, err := loadCommunity(s.db.WithContext(ctx), communityID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.Require(ctx, actorID, communityID, RoleModerator, "Only moderators can invite members"); err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ActionInvite, actorID); err != nil {
		return nil, err
	}

	invite := models.Invite{
		CommunityID: communityID,
		Email:       in.Email,
		Token:       uuid.NewString(),
		InvitedByID: actorID,
		ExpiresAt:   s.now().Add(inviteTTL),
	}
	if err := s.db.WithContext(ctx).Create(&invite).Error; err != nil {
		return nil, Internal("create invite", err)
	}

	var inviter models.User
	if err := s.db.WithContext(ctx).Select("id", "username").First(&inviter, actorID).Error; err != nil {
		slog.Error("Failed to load inviter for invite email", "user_id", actorID, "error", err)
	}

	link := s.link("/invites/" + invite.Token)
	s.mail.SendInvite(invite.Email, inviter.Username, community.Name, link, invite.ExpiresAt.Format("Jan 2, 2006"))

	var invitee models.User
	if err := s.db.WithContext(ctx).Where("email = ?", invite.Email).First(&invitee).Error; err == nil {
		s.notifications.Notify(ctx, invitee.ID, actorID, models.NotificationTypeInvite,
			fmt.Sprintf(`invited you to join <a href="/invites/%s">%s</a>`,
				template.HTMLEscapeString(invite.Token), template.HTMLEscapeString(community.Name)))
	}
	return &invite, nil
}

// AcceptInvite 邀请未过期且未使用时加入社区
func (s *CommunityService) AcceptInvite(ctx context.Context, userID uint, token string) (*models.Community, error) {
	if userID == 0 {
		return nil, Unauthorized("Please sign in first")
	}
	var invite models.Invite
	err := s.db.WithContext(ctx).Preload("Community").Where("token = ?", token).First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Invitation not found")
	}
	if err != nil {
		return nil, Internal("load invite", err)
	}
	if invite.AcceptedAt != nil {
		return nil, Conflict("This invitation has already been used")
	}
	if !s.now().Before(invite.ExpiresAt) {
		return nil, Validation("This invitation has expired")
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invite{}).Where("id = ? AND accepted_at IS NULL", invite.ID).Update("accepted_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return Conflict("This invitation has already been used")
		}
		return s.addMember(tx, invite.CommunityID, userID)
	})
	if err != nil {
		return nil, wrapInternal("accept invite", err)
	}
	return &invite.Community, nil
}

// SetRole 只有 owner 可以调整角色，owner 身份不能转移或授予
func (s *CommunityService) SetRole(ctx context.Context, actorID, communityID, userID uint, role string) error {
	target := ParseRole(role)
	if target != RoleMember && target != RoleModerator {
		return Validation("Role must be member or moderator")
	}
	if _, err := s.access.Require(ctx, actorID, communityID, RoleOwner, "Only the owner can change roles"); err != nil {
		return err
	}
	current, err := s.access.Resolve(ctx, userID, communityID)
	if err != nil {
		return err
	}
	switch current {
	case RoleNone:
		return NotFound("Member not found")
	case RoleOwner:
		return Validation("The owner's role cannot be changed")
	}

	err = s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Update("role", target.String()).Error
	if err != nil {
		return Internal("set role", err)
	}
	return nil
}

// RemoveMember 在同一事务中移交被移除成员组织的活动并删除成员关系
func (s *CommunityService) RemoveMember(ctx context.Context, actorID, communityID, userID uint) error {
	actorRole, err := s.access.Require(ctx, actorID, communityID, RoleModerator, "Only moderators can remove members")
	if err != nil {
		return err
	}
	targetRole, err := s.access.Resolve(ctx, userID, communityID)
	if err != nil {
		return err
	}
	switch {
	case targetRole == RoleNone:
		return NotFound("Member not found")
	case targetRole == RoleOwner:
		return Forbidden("The owner cannot be removed")
	case targetRole >= actorRole:
		return Forbidden("Only the owner can remove moderators")
	}
	return s.removeMembership(ctx, communityID, userID)
}

func (s *CommunityService) removeMembership(ctx context.Context, communityID, userID uint) error {
	community, err := loadCommunity(s.db.WithContext(ctx), communityID)
	if err != nil {
		return err
	}

	var transferred int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []models.Event
		if err := tx.Where("community_id = ? AND organizer_id = ?", communityID, userID).Find(&events).Error; err != nil {
			return err
		}
		for _, ev := range events {
			newOrganizer, err := successorFor(tx, ev.ID, communityID, userID, community.OwnerID)
			if err != nil {
				return err
			}
			if err := tx.Model(&models.Event{}).Where("id = ?", ev.ID).Update("organizer_id", newOrganizer).Error; err != nil {
				return err
			}
			// 接任者不再保留联合组织者身份
			if err := tx.Where("event_id = ? AND user_id = ?", ev.ID, newOrganizer).Delete(&models.EventOrganizer{}).Error; err != nil {
				return err
			}
			transferred++
		}

		eventIDs := tx.Model(&models.Event{}).Select("id").Where("community_id = ?", communityID)
		if err := tx.Where("user_id = ? AND event_id IN (?)", userID, eventIDs).Delete(&models.EventOrganizer{}).Error; err != nil {
			return err
		}
		return tx.Where("community_id = ? AND user_id = ?", communityID, userID).Delete(&models.Membership{}).Error
	})
	if err != nil {
		return Internal("remove member", err)
	}
	slog.Info("Member removed", "community_id", communityID, "user_id", userID, "events_transferred", transferred)
	return nil
}

// successorFor 最早加入且仍是成员的联合组织者，没有则交给社区 owner
func successorFor(tx *gorm.DB, eventID, communityID, leavingID, ownerID uint) (uint, error) {
	var co models.EventOrganizer
	err := tx.Model(&models.EventOrganizer{}).
		Joins("JOIN memberships ON memberships.user_id = event_organizers.user_id AND memberships.community_id = ?", communityID).
		Where("event_organizers.event_id = ? AND event_organizers.user_id <> ?", eventID, leavingID).
		Order("event_organizers.created_at ASC").Order("event_organizers.id ASC").
		First(&co).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ownerID, nil
	}
	if err != nil {
		return 0, err
	}
	return co.UserID, nil
}
