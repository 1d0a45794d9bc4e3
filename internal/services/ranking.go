package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"townsquare/internal/models"
	"townsquare/internal/utils"

	"gorm.io/gorm"
)

const (
	reconcileWindow = 7 * 24 * time.Hour
	reconcileTop    = 30
)

// RankingService 根据投票记录重算帖子和评论的分数，修正计数漂移
type RankingService struct {
	*core
	queue   chan uint // 待重算的帖子 ID
	pending map[uint]bool
	mu      sync.Mutex
}

func newRankingService(c *core) *RankingService {
	return &RankingService{
		core:    c,
		queue:   make(chan uint, 1000),
		pending: make(map[uint]bool),
	}
}

// ScheduleUpdate 将帖子加入重算队列，队列中已有的帖子不会重复加入
func (s *RankingService) ScheduleUpdate(postID uint) {
	s.mu.Lock()
	if s.pending[postID] {
		s.mu.Unlock()
		return
	}
	s.pending[postID] = true
	s.mu.Unlock()

	select {
	case s.queue <- postID:
	default:
		s.mu.Lock()
		delete(s.pending, postID)
		s.mu.Unlock()
		slog.Warn("Ranking queue is full, skipping post", "post_id", postID)
	}
}

// Run 后台处理队列，ctx 取消后退出
func (s *RankingService) Run(ctx context.Context) {
	batch := make([]uint, 0, 50)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case postID := <-s.queue:
			batch = append(batch, postID)
			if len(batch) >= 50 {
				s.processBatch(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.processBatch(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *RankingService) processBatch(ctx context.Context, postIDs []uint) {
	for _, postID := range postIDs {
		if err := s.ReconcilePost(ctx, postID); err != nil {
			slog.Error("Failed to reconcile post", "post_id", postID, "error", err)
		}
		s.mu.Lock()
		delete(s.pending, postID)
		s.mu.Unlock()
	}
}

// ReconcilePost 以投票表为准重算 voteScore、hotRank、评论数以及评论分数
func (s *RankingService) ReconcilePost(ctx context.Context, postID uint) error {
	var post models.Post
	if err := s.db.WithContext(ctx).Unscoped().Select("id", "created_at").First(&post, postID).Error; err != nil {
		return Internal("load post", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 票数求和与写入在同一条语句内
		score := func() *gorm.DB {
			return tx.Model(&models.Vote{}).Select("COALESCE(SUM(value), 0)").Where("post_id = ?", postID)
		}
		comments := tx.Model(&models.Comment{}).Select("COUNT(*)").Where("post_id = ? AND deleted_at IS NULL", postID)
		err := tx.Unscoped().Model(&models.Post{}).Where("id = ?", postID).UpdateColumns(map[string]any{
			"vote_score":    gorm.Expr("(?)", score()),
			"hot_rank":      gorm.Expr("(?) * ? + ?", score(), utils.HotDecaySeconds, post.CreatedAt.Unix()),
			"comment_count": gorm.Expr("(?)", comments),
		}).Error
		if err != nil {
			return err
		}

		sums := tx.Model(&models.Vote{}).Select("COALESCE(SUM(votes.value), 0)").Where("votes.comment_id = comments.id")
		return tx.Model(&models.Comment{}).Where("post_id = ?", postID).
			UpdateColumn("vote_score", gorm.Expr("(?)", sums)).Error
	})
}

// ReconcileRecent 重算最近 7 天以及分数最高的 30 篇帖子，返回处理数量
func (s *RankingService) ReconcileRecent(ctx context.Context) (int, error) {
	var recent []uint
	if err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("created_at >= ?", s.now().Add(-reconcileWindow)).Pluck("id", &recent).Error; err != nil {
		return 0, Internal("load recent posts", err)
	}
	var top []uint
	if err := s.db.WithContext(ctx).Model(&models.Post{}).
		Order("vote_score DESC").Order("id DESC").Limit(reconcileTop).Pluck("id", &top).Error; err != nil {
		return 0, Internal("load top posts", err)
	}

	processed := make(map[uint]bool, len(recent)+len(top))
	count := 0
	for _, id := range append(recent, top...) {
		if processed[id] {
			continue
		}
		processed[id] = true
		if err := s.ReconcilePost(ctx, id); err != nil {
			slog.Error("Failed to reconcile post", "post_id", id, "error", err)
			continue
		}
		count++
	}

	s.cache.DeletePrefix("feed:")
	slog.Info("Score reconciliation finished", "posts", count)
	return count, nil
}
