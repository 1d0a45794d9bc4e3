package services

import (
	"context"
	"errors"

	"townsquare/internal/models"
	"townsquare/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var votesCast = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "townsquare_votes_total",
	Help: "Votes cast by target type and whether the score changed.",
}, []string{"target", "changed"})

type VoteService struct {
	*core
}

type VoteResult struct {
	VoteScore int `json:"voteScore"`
	UserVote  int `json:"userVote"`
}

func validVote(value int) error {
	if value < -1 || value > 1 {
		return Validation("Vote must be -1, 0 or 1")
	}
	return nil
}

// VotePost 同一用户重复投相同的票不会改变分数
func (s *VoteService) VotePost(ctx context.Context, userID, postID uint, value int) (VoteResult, error) {
	if err := validVote(value); err != nil {
		return VoteResult{}, err
	}
	var post models.Post
	if err := s.db.WithContext(ctx).Preload("Community").First(&post, postID).Error; err != nil {
		return VoteResult{}, postLookupError(err)
	}
	if err := s.access.CanRead(ctx, userID, &post.Community); err != nil {
		return VoteResult{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delta, err := s.applyVote(tx, userID, &postID, nil, value)
		if err != nil || delta == 0 {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).UpdateColumns(map[string]any{
			"vote_score": gorm.Expr("vote_score + ?", delta),
			"hot_rank":   gorm.Expr("hot_rank + ?", utils.HotRankDelta(delta)),
		}).Error
	})
	if err != nil {
		return VoteResult{}, wrapInternal("vote post", err)
	}

	var score int
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Select("vote_score").Where("id = ?", postID).Scan(&score).Error; err != nil {
		return VoteResult{}, Internal("reload post score", err)
	}
	return VoteResult{VoteScore: score, UserVote: value}, nil
}

func (s *VoteService) VoteComment(ctx context.Context, userID, commentID uint, value int) (VoteResult, error) {
	if err := validVote(value); err != nil {
		return VoteResult{}, err
	}
	var comment models.Comment
	if err := s.db.WithContext(ctx).Preload("Post.Community").First(&comment, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return VoteResult{}, NotFound("Comment not found")
		}
		return VoteResult{}, Internal("load comment", err)
	}
	if comment.DeletedAt != nil || comment.Post.ID == 0 {
		return VoteResult{}, NotFound("Comment not found")
	}
	if err := s.access.CanRead(ctx, userID, &comment.Post.Community); err != nil {
		return VoteResult{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delta, err := s.applyVote(tx, userID, nil, &commentID, value)
		if err != nil || delta == 0 {
			return err
		}
		return tx.Model(&models.Comment{}).Where("id = ?", commentID).
			UpdateColumn("vote_score", gorm.Expr("vote_score + ?", delta)).Error
	})
	if err != nil {
		return VoteResult{}, wrapInternal("vote comment", err)
	}

	var score int
	if err := s.db.WithContext(ctx).Model(&models.Comment{}).Select("vote_score").Where("id = ?", commentID).Scan(&score).Error; err != nil {
		return VoteResult{}, Internal("reload comment score", err)
	}
	return VoteResult{VoteScore: score, UserVote: value}, nil
}

// applyVote 写入或更新投票记录，返回分数变化量
func (s *VoteService) applyVote(tx *gorm.DB, userID uint, postID, commentID *uint, value int) (int, error) {
	target := "post"
	if commentID != nil {
		target = "comment"
	}

	for attempt := 0; attempt < 3; attempt++ {
		vote := models.Vote{UserID: userID, PostID: postID, CommentID: commentID, Value: value}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&vote)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			votesCast.WithLabelValues(target, boolLabel(value != 0)).Inc()
			return value, nil
		}

		var existing models.Vote
		q := tx.Where("user_id = ?", userID)
		if postID != nil {
			q = q.Where("post_id = ?", *postID)
		} else {
			q = q.Where("comment_id = ?", *commentID)
		}
		if err := q.First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return 0, err
		}
		if existing.Value == value {
			votesCast.WithLabelValues(target, "false").Inc()
			return 0, nil
		}

		// 按旧值做比较交换，并发修改时重试
		res = tx.Model(&models.Vote{}).
			Where("id = ? AND value = ?", existing.ID, existing.Value).
			Updates(map[string]any{"value": value, "updated_at": s.now()})
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			votesCast.WithLabelValues(target, "true").Inc()
			return value - existing.Value, nil
		}
	}
	return 0, Conflict("Your vote changed at the same time, please retry")
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// wrapInternal 已经是 *Error 的原样返回
func wrapInternal(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Internal(op, err)
}
