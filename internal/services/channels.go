package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"townsquare/internal/models"
	"townsquare/internal/pagination"

	"gorm.io/gorm"
)

const maxMessageLength = 2000

type ChannelService struct {
	*core
}

type MessageView struct {
	ID           uint      `json:"id"`
	ChannelID    uint      `json:"channelId"`
	AuthorID     uint      `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	AuthorAvatar string    `json:"authorAvatar"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toMessageView(m *models.Message) MessageView {
	return MessageView{
		ID:           m.ID,
		ChannelID:    m.ChannelID,
		AuthorID:     m.UserID,
		AuthorName:   m.User.Username,
		AuthorAvatar: m.User.Avatar,
		Body:         m.Body,
		CreatedAt:    m.CreatedAt,
	}
}

func (s *ChannelService) loadChannel(ctx context.Context, id uint) (*models.Channel, error) {
	var ch models.Channel
	err := s.db.WithContext(ctx).Preload("Community").First(&ch, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Channel not found")
	}
	if err != nil {
		return nil, Internal("load channel", err)
	}
	return &ch, nil
}

func (s *ChannelService) ListChannels(ctx context.Context, userID, communityID uint) ([]models.Channel, error) {
	community, err := loadCommunity(s.db.WithContext(ctx), communityID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanRead(ctx, userID, community); err != nil {
		return nil, err
	}
	var channels []models.Channel
	if err := s.db.WithContext(ctx).Where("community_id = ?", communityID).Order("id ASC").Find(&channels).Error; err != nil {
		return nil, Internal("list channels", err)
	}
	return channels, nil
}

// ListMessages 最新消息在前，游标为上一页最后一条消息的 id
func (s *ChannelService) ListMessages(ctx context.Context, userID, channelID uint, limit int, cursor string) (pagination.Page[MessageView], error) {
	ch, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return pagination.Page[MessageView]{}, err
	}
	if err := s.access.CanRead(ctx, userID, &ch.Community); err != nil {
		return pagination.Page[MessageView]{}, err
	}

	limit = pagination.ClampLimit(limit, 50, s.maxLimit)
	q := s.db.WithContext(ctx).Preload("User").Where("channel_id = ?", channelID)
	if id, ok := pagination.ParseCursor(cursor); ok {
		var anchor models.Message
		if err := s.db.WithContext(ctx).Where("id = ? AND channel_id = ?", id, channelID).First(&anchor).Error; err == nil {
			q = pagination.After(q,
				pagination.Key{Column: "created_at", Value: anchor.CreatedAt},
				pagination.Key{Column: "id", Value: anchor.ID})
		}
	}
	var msgs []models.Message
	if err := pagination.OrderDesc(q, "created_at", "id").Limit(limit + 1).Find(&msgs).Error; err != nil {
		return pagination.Page[MessageView]{}, Internal("list messages", err)
	}

	page := pagination.Window(msgs, limit, func(m models.Message) uint { return m.ID })
	views := make([]MessageView, 0, len(page.Items))
	for i := range page.Items {
		views = append(views, toMessageView(&page.Items[i]))
	}
	return pagination.Page[MessageView]{Items: views, NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
}

// Authorize 只有社区成员可以进入频道
func (s *ChannelService) Authorize(ctx context.Context, userID, channelID uint) (*models.Channel, error) {
	ch, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.Require(ctx, userID, ch.CommunityID, RoleMember, "Only members can chat in this channel"); err != nil {
		return nil, err
	}
	return ch, nil
}

// PostMessage 先落库再推送给在线连接
func (s *ChannelService) PostMessage(ctx context.Context, userID, channelID uint, body string) (*MessageView, error) {
	body = strings.TrimSpace(body)
	if n := utf8.RuneCountInString(body); n == 0 || n > maxMessageLength {
		return nil, Validation("Message must be between 1 and 2000 characters")
	}
	if _, err := s.Authorize(ctx, userID, channelID); err != nil {
		return nil, err
	}

	msg := models.Message{ChannelID: channelID, UserID: userID, Body: body, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, Internal("post message", err)
	}
	if err := s.db.WithContext(ctx).First(&msg.User, userID).Error; err != nil {
		return nil, Internal("load author", err)
	}

	view := toMessageView(&msg)
	s.publisher.Publish(channelID, view)
	return &view, nil
}
