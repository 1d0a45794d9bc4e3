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
	"townsquare/internal/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

type PostSort string

const (
	SortHot PostSort = "hot"
	SortTop PostSort = "top"
	SortNew PostSort = "new"
)

// ParsePostSort 未知排序按 hot 处理
func ParsePostSort(s string) PostSort {
	switch PostSort(strings.ToLower(s)) {
	case SortTop:
		return SortTop
	case SortNew:
		return SortNew
	default:
		return SortHot
	}
}

// 所有排序都以 id 兜底，保证全序
func postColumns(sort PostSort) []string {
	switch sort {
	case SortTop:
		return []string{"vote_score", "created_at", "id"}
	case SortNew:
		return []string{"created_at", "id"}
	default:
		return []string{"hot_rank", "id"}
	}
}

func postKeys(sort PostSort, p *models.Post) []pagination.Key {
	switch sort {
	case SortTop:
		return []pagination.Key{{Column: "vote_score", Value: p.VoteScore}, {Column: "created_at", Value: p.CreatedAt}, {Column: "id", Value: p.ID}}
	case SortNew:
		return []pagination.Key{{Column: "created_at", Value: p.CreatedAt}, {Column: "id", Value: p.ID}}
	default:
		return []pagination.Key{{Column: "hot_rank", Value: p.HotRank}, {Column: "id", Value: p.ID}}
	}
}

const defaultPageSize = 20

type PostView struct {
	models.Post
	AuthorName    string        `json:"authorName"`
	AuthorAvatar  string        `json:"authorAvatar"`
	CommunitySlug string        `json:"communitySlug"`
	ContentHTML   template.HTML `json:"contentHtml"`
	HotScore      float64       `json:"hotScore"`
	UserVote      int           `json:"userVote"`
}

type PostListParams struct {
	CommunityID uint
	Sort        string
	Limit       int
	Cursor      string
	UserID      uint
}

type PublicPostParams struct {
	Sort   string
	Limit  int
	Cursor string
	UserID uint
}

type PostService struct {
	*core
}

func (s *PostService) posts(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Post{}).Preload("User").Preload("Community")
}

// GetPosts 社区帖子列表。第一页置顶帖排在最前，之后的页不再出现置顶帖
func (s *PostService) GetPosts(ctx context.Context, p PostListParams) (pagination.Page[PostView], error) {
	community, err := loadCommunity(s.db.WithContext(ctx), p.CommunityID)
	if err != nil {
		return pagination.Page[PostView]{}, err
	}
	if err := s.access.CanRead(ctx, p.UserID, community); err != nil {
		return pagination.Page[PostView]{}, err
	}

	limit := pagination.ClampLimit(p.Limit, defaultPageSize, s.maxLimit)
	sort := ParsePostSort(p.Sort)
	scope := func() *gorm.DB {
		return s.posts(ctx).Where("community_id = ?", community.ID)
	}

	var items []models.Post
	cursorID, hasCursor := pagination.ParseCursor(p.Cursor)
	if !hasCursor {
		var pinned, rest []models.Post
		if err := pagination.OrderDesc(scope().Where("is_pinned = ?", true), postColumns(sort)...).
			Limit(limit + 1).Find(&pinned).Error; err != nil {
			return pagination.Page[PostView]{}, Internal("list pinned posts", err)
		}
		if err := pagination.OrderDesc(scope().Where("is_pinned = ?", false), postColumns(sort)...).
			Limit(limit + 1).Find(&rest).Error; err != nil {
			return pagination.Page[PostView]{}, Internal("list posts", err)
		}
		items = append(pinned, rest...)
	} else {
		q := scope().Where("is_pinned = ?", false)
		anchor, err := s.findAnchor(ctx, cursorID, "community_id = ?", community.ID)
		if err != nil {
			return pagination.Page[PostView]{}, err
		}
		switch {
		case anchor == nil:
			slog.Warn("Unknown feed cursor, falling back to newest first", "community_id", community.ID, "cursor", p.Cursor)
			sort = SortNew
		case anchor.IsPinned:
			// 第一页止于置顶区，非置顶帖从头开始
		default:
			q = pagination.After(q, postKeys(sort, anchor)...)
		}
		if err := pagination.OrderDesc(q, postColumns(sort)...).Limit(limit + 1).Find(&items).Error; err != nil {
			return pagination.Page[PostView]{}, Internal("list posts", err)
		}
	}

	page := pagination.Window(items, limit, func(p models.Post) uint { return p.ID })
	return s.viewPage(ctx, page, p.UserID)
}

// GetPublicPosts 所有公开社区的帖子，不做置顶插入
func (s *PostService) GetPublicPosts(ctx context.Context, p PublicPostParams) (pagination.Page[PostView], error) {
	limit := pagination.ClampLimit(p.Limit, defaultPageSize, s.maxLimit)
	sort := ParsePostSort(p.Sort)

	cacheable := p.Cursor == "" && p.UserID == 0
	cacheKey := fmt.Sprintf("feed:public:%s:%d", sort, limit)
	if cacheable {
		if cached, ok := s.cache.Get(cacheKey).(pagination.Page[PostView]); ok {
			return cached, nil
		}
	}

	public := func() *gorm.DB {
		return s.db.Model(&models.Community{}).Select("id").Where("is_public = ?", true)
	}
	q := s.posts(ctx).Where("community_id IN (?)", public())

	if cursorID, ok := pagination.ParseCursor(p.Cursor); ok {
		anchor, err := s.findAnchor(ctx, cursorID, "community_id IN (?)", public())
		if err != nil {
			return pagination.Page[PostView]{}, err
		}
		if anchor == nil {
			slog.Warn("Unknown public feed cursor, falling back to newest first", "cursor", p.Cursor)
			sort = SortNew
		} else {
			q = pagination.After(q, postKeys(sort, anchor)...)
		}
	}

	var items []models.Post
	if err := pagination.OrderDesc(q, postColumns(sort)...).Limit(limit + 1).Find(&items).Error; err != nil {
		return pagination.Page[PostView]{}, Internal("list public posts", err)
	}

	page, err := s.viewPage(ctx, pagination.Window(items, limit, func(p models.Post) uint { return p.ID }), p.UserID)
	if err != nil {
		return page, err
	}
	if cacheable {
		s.cache.Set(cacheKey, page, time.Minute)
	}
	return page, nil
}

// findAnchor 定位游标对应的帖子；软删除的帖子仍可作为游标
func (s *PostService) findAnchor(ctx context.Context, id uint, scope string, args ...any) (*models.Post, error) {
	var anchor models.Post
	err := s.db.WithContext(ctx).Unscoped().Where("id = ?", id).Where(scope, args...).First(&anchor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Internal("load cursor post", err)
	}
	return &anchor, nil
}

func (s *PostService) GetPostByID(ctx context.Context, id, userID uint) (*PostView, error) {
	var post models.Post
	if err := s.posts(ctx).First(&post, id).Error; err != nil {
		return nil, postLookupError(err)
	}
	return s.viewOne(ctx, &post, userID)
}

func (s *PostService) GetPostBySlug(ctx context.Context, communityID uint, postSlug string, userID uint) (*PostView, error) {
	var post models.Post
	if err := s.posts(ctx).Where("community_id = ? AND slug = ?", communityID, postSlug).First(&post).Error; err != nil {
		return nil, postLookupError(err)
	}
	return s.viewOne(ctx, &post, userID)
}

func postLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound("Post not found")
	}
	return Internal("load post", err)
}

func (s *PostService) viewOne(ctx context.Context, post *models.Post, userID uint) (*PostView, error) {
	if err := s.access.CanRead(ctx, userID, &post.Community); err != nil {
		return nil, err
	}
	views, err := s.toViews(ctx, []models.Post{*post}, userID)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *PostService) viewPage(ctx context.Context, page pagination.Page[models.Post], userID uint) (pagination.Page[PostView], error) {
	views, err := s.toViews(ctx, page.Items, userID)
	if err != nil {
		return pagination.Page[PostView]{}, err
	}
	return pagination.Page[PostView]{Items: views, NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
}

func (s *PostService) toViews(ctx context.Context, posts []models.Post, userID uint) ([]PostView, error) {
	views := make([]PostView, 0, len(posts))
	if len(posts) == 0 {
		return views, nil
	}

	ids := make([]uint, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	myVotes, err := userVotes(s.db.WithContext(ctx), userID, "post_id", ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, p := range posts {
		views = append(views, PostView{
			Post:          p,
			AuthorName:    p.User.Username,
			AuthorAvatar:  p.User.Avatar,
			CommunitySlug: p.Community.Slug,
			ContentHTML:   utils.RenderMarkdown(p.Content),
			HotScore:      utils.HotScore(p.VoteScore, p.CreatedAt, now),
			UserVote:      myVotes[p.ID],
		})
	}
	return views, nil
}

// userVotes 查询用户对一批目标的投票，column 为 post_id 或 comment_id
func userVotes(tx *gorm.DB, userID uint, column string, ids []uint) (map[uint]int, error) {
	result := map[uint]int{}
	if userID == 0 || len(ids) == 0 {
		return result, nil
	}
	type row struct {
		TargetID uint
		Value    int
	}
	var rows []row
	err := tx.Model(&models.Vote{}).
		Select(column+" AS target_id, value").
		Where("user_id = ? AND "+column+" IN ?", userID, ids).
		Scan(&rows).Error
	if err != nil {
		return nil, Internal("load user votes", err)
	}
	for _, r := range rows {
		result[r.TargetID] = r.Value
	}
	return result, nil
}

type CreatePostInput struct {
	CommunityID uint   `json:"communityId" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	Content     string `json:"content" validate:"max=40000"`
}

func (s *PostService) CreatePost(ctx context.Context, userID uint, in CreatePostInput) (*PostView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := check(in); err != nil {
		return nil, err
	}
	if _, err := loadCommunity(s.db.WithContext(ctx), in.CommunityID); err != nil {
		return nil, err
	}
	if _, err := s.access.Require(ctx, userID, in.CommunityID, RoleMember, "Only members can post in this community"); err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ActionCreatePost, userID); err != nil {
		return nil, err
	}

	postSlug, err := s.uniqueSlug(ctx, in.CommunityID, in.Title)
	if err != nil {
		return nil, err
	}

	now := s.now()
	post := models.Post{
		CommunityID: in.CommunityID,
		UserID:      userID,
		Slug:        postSlug,
		Title:       in.Title,
		Content:     in.Content,
		HotRank:     utils.HotRank(0, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return nil, Internal("create post", err)
	}
	s.cache.DeletePrefix("feed:public:")
	slog.Info("Post created", "post_id", post.ID, "community_id", post.CommunityID, "user_id", userID)

	return s.GetPostByID(ctx, post.ID, userID)
}

// uniqueSlug 同一社区内 slug 唯一，冲突时追加 -2、-3…（含已删除的帖子）
func (s *PostService) uniqueSlug(ctx context.Context, communityID uint, title string) (string, error) {
	return uniqueSlug(s.db.WithContext(ctx).Unscoped().Model(&models.Post{}).Where("community_id = ?", communityID), title, "post")
}

func uniqueSlug(scope *gorm.DB, title, fallback string) (string, error) {
	base := slug.Make(title)
	if len(base) > 100 {
		base = strings.Trim(base[:100], "-")
	}
	if base == "" {
		base = fallback
	}

	candidate := base
	for i := 2; i <= 50; i++ {
		var count int64
		if err := scope.Session(&gorm.Session{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return "", Internal("check slug", err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return base + "-" + uuid.NewString()[:8], nil
}

type UpdatePostInput struct {
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content" validate:"max=40000"`
}

// UpdatePost 作者或版主可以编辑，slug 保持不变
func (s *PostService) UpdatePost(ctx context.Context, userID, postID uint, in UpdatePostInput) (*PostView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := check(in); err != nil {
		return nil, err
	}
	post, err := s.loadPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanModerate(ctx, userID, post.UserID, post.CommunityID, "Only the author or moderators can edit this post"); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Model(post).Updates(map[string]any{
		"title":      in.Title,
		"content":    in.Content,
		"updated_at": s.now(),
	}).Error
	if err != nil {
		return nil, Internal("update post", err)
	}
	return s.GetPostByID(ctx, postID, userID)
}

// DeletePost 软删除
func (s *PostService) DeletePost(ctx context.Context, userID, postID uint) error {
	post, err := s.loadPost(ctx, postID)
	if err != nil {
		return err
	}
	if err := s.access.CanModerate(ctx, userID, post.UserID, post.CommunityID, "Only the author or moderators can delete this post"); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(post).Error; err != nil {
		return Internal("delete post", err)
	}
	s.cache.DeletePrefix("feed:public:")
	slog.Info("Post deleted", "post_id", postID, "by", userID)
	return nil
}

func (s *PostService) SetPinned(ctx context.Context, userID, postID uint, pinned bool) error {
	post, err := s.loadPost(ctx, postID)
	if err != nil {
		return err
	}
	if _, err := s.access.Require(ctx, userID, post.CommunityID, RoleModerator, "Only moderators can pin posts"); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(post).UpdateColumn("is_pinned", pinned).Error; err != nil {
		return Internal("pin post", err)
	}
	s.ranking.ScheduleUpdate(postID)
	s.cache.DeletePrefix("feed:public:")
	return nil
}

func (s *PostService) loadPost(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, postLookupError(err)
	}
	return &post, nil
}
