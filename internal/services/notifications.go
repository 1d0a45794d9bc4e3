package services

import (
	"context"
	"log/slog"

	"townsquare/internal/models"
)

type NotificationService struct {
	*core
}

// Notify 创建站内通知；receiver 与 actor 相同时跳过。失败只记录日志
func (s *NotificationService) Notify(ctx context.Context, userID, actorID uint, typ models.NotificationType, reason string) {
	if userID == 0 || userID == actorID {
		return
	}
	n := models.Notification{UserID: userID, Type: typ, Reason: reason}
	if actorID != 0 {
		n.ActorID = &actorID
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		slog.Error("Failed to create notification", "user_id", userID, "type", typ, "error", err)
	}
}

func (s *NotificationService) List(ctx context.Context, userID uint, limit int) ([]models.Notification, error) {
	var list []models.Notification
	err := s.db.WithContext(ctx).Preload("Actor").
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, Internal("list notifications", err)
	}
	return list, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, Internal("count notifications", err)
	}
	return count, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return Internal("mark notification read", res.Error)
	}
	if res.RowsAffected == 0 {
		return NotFound("Notification not found")
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) error {
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).Error
	if err != nil {
		return Internal("mark all notifications read", err)
	}
	return nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	if res.Error != nil {
		return Internal("delete notification", res.Error)
	}
	if res.RowsAffected == 0 {
		return NotFound("Notification not found")
	}
	return nil
}
