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

	"gorm.io/gorm"
)

const (
	// DefaultMaxDepth 评论最大嵌套层级，顶层为 0
	DefaultMaxDepth = 5
	// 单次加载的回复上限
	maxReplyFetch = 5000
)

type CommentSort string

const (
	SortBest       CommentSort = "best"
	SortCommentNew CommentSort = "new"
)

func ParseCommentSort(s string) CommentSort {
	if strings.EqualFold(s, string(SortCommentNew)) {
		return SortCommentNew
	}
	return SortBest
}

func commentColumns(sort CommentSort) []string {
	if sort == SortCommentNew {
		return []string{"created_at", "id"}
	}
	return []string{"vote_score", "created_at", "id"}
}

func commentKeys(sort CommentSort, c *models.Comment) []pagination.Key {
	if sort == SortCommentNew {
		return []pagination.Key{{Column: "created_at", Value: c.CreatedAt}, {Column: "id", Value: c.ID}}
	}
	return []pagination.Key{{Column: "vote_score", Value: c.VoteScore}, {Column: "created_at", Value: c.CreatedAt}, {Column: "id", Value: c.ID}}
}

// CommentNode 评论树节点。ReplyCount 是数据库中直接回复的真实数量，
// 与 Replies 实际加载了多少无关
type CommentNode struct {
	ID           uint           `json:"id"`
	PostID       uint           `json:"postId"`
	ParentID     *uint          `json:"parentId"`
	AuthorID     uint           `json:"authorId"`
	AuthorName   string         `json:"authorName"`
	AuthorAvatar string         `json:"authorAvatar"`
	Depth        int            `json:"depth"`
	Content      string         `json:"content"`
	ContentHTML  template.HTML  `json:"contentHtml"`
	VoteScore    int            `json:"voteScore"`
	UserVote     int            `json:"userVote"`
	ReplyCount   int            `json:"replyCount"`
	IsDeleted    bool           `json:"isDeleted"`
	CreatedAt    time.Time      `json:"createdAt"`
	Replies      []*CommentNode `json:"replies"`
}

type CommentListParams struct {
	PostID uint
	Sort   string
	UserID uint
	Limit  int
	Cursor string
}

type ReplyListParams struct {
	PostID   uint
	ParentID uint
	Sort     string
	UserID   uint
	Limit    int
	Cursor   string
}

type CommentService struct {
	*core
	replyFetch int // 为 0 时使用 maxReplyFetch
}

// GetPostComments 分页加载顶层评论，并附带各自的回复树。帖子不存在时返回空页
func (s *CommentService) GetPostComments(ctx context.Context, p CommentListParams) (pagination.Page[*CommentNode], error) {
	post, err := s.readablePost(ctx, p.PostID, p.UserID)
	if err != nil || post == nil {
		return pagination.Empty[*CommentNode](), err
	}

	level := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Comment{}).
			Where("post_id = ? AND parent_id IS NULL", post.ID)
	}
	return s.listLevel(ctx, level, post.ID, 0, p.Sort, p.UserID, p.Limit, p.Cursor)
}

// GetCommentReplies 分页加载某条评论的直接回复及其子树
func (s *CommentService) GetCommentReplies(ctx context.Context, p ReplyListParams) (pagination.Page[*CommentNode], error) {
	post, err := s.readablePost(ctx, p.PostID, p.UserID)
	if err != nil || post == nil {
		return pagination.Empty[*CommentNode](), err
	}

	var parent models.Comment
	err = s.db.WithContext(ctx).Where("id = ? AND post_id = ?", p.ParentID, post.ID).First(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pagination.Empty[*CommentNode](), nil
	}
	if err != nil {
		return pagination.Page[*CommentNode]{}, Internal("load parent comment", err)
	}
	if parent.Depth >= s.maxDepth {
		return pagination.Empty[*CommentNode](), nil
	}

	level := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Comment{}).
			Where("post_id = ? AND parent_id = ?", post.ID, parent.ID)
	}
	return s.listLevel(ctx, level, post.ID, parent.Depth+1, p.Sort, p.UserID, p.Limit, p.Cursor)
}

// readablePost 帖子不存在（含已删除）时返回 nil, nil
func (s *CommentService) readablePost(ctx context.Context, postID, userID uint) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Preload("Community").First(&post, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Internal("load post", err)
	}
	if err := s.access.CanRead(ctx, userID, &post.Community); err != nil {
		return nil, err
	}
	return &post, nil
}

// listLevel 对同一层的评论做游标分页，然后挂上子树。
// 游标必须属于 level 描述的同一组兄弟评论
func (s *CommentService) listLevel(ctx context.Context, level func() *gorm.DB, postID uint, depth int, sortParam string, userID uint, limit int, cursor string) (pagination.Page[*CommentNode], error) {
	limit = pagination.ClampLimit(limit, defaultPageSize, s.maxLimit)
	sort := ParseCommentSort(sortParam)
	scope := level()

	if cursorID, ok := pagination.ParseCursor(cursor); ok {
		var anchor models.Comment
		err := level().Where("id = ?", cursorID).First(&anchor).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			slog.Warn("Unknown comment cursor, falling back to newest first", "post_id", postID, "cursor", cursor)
			sort = SortCommentNew
		case err != nil:
			return pagination.Page[*CommentNode]{}, Internal("load comment cursor", err)
		default:
			scope = pagination.After(scope, commentKeys(sort, &anchor)...)
		}
	}

	var siblings []models.Comment
	if err := pagination.OrderDesc(scope.Preload("User"), commentColumns(sort)...).Limit(limit + 1).Find(&siblings).Error; err != nil {
		return pagination.Page[*CommentNode]{}, Internal("list comments", err)
	}
	page := pagination.Window(siblings, limit, func(c models.Comment) uint { return c.ID })

	nodes, err := s.buildForest(ctx, postID, depth, page.Items, sort, userID)
	if err != nil {
		return pagination.Page[*CommentNode]{}, err
	}
	return pagination.Page[*CommentNode]{Items: nodes, NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
}

// buildForest 取出更深层的评论后按层级从浅到深遍历，
// 只保留能沿父链回到 roots 的节点
func (s *CommentService) buildForest(ctx context.Context, postID uint, rootDepth int, roots []models.Comment, sort CommentSort, userID uint) ([]*CommentNode, error) {
	out := make([]*CommentNode, 0, len(roots))
	if len(roots) == 0 {
		return out, nil
	}

	byID := make(map[uint]*CommentNode, len(roots))
	all := make([]*CommentNode, 0, len(roots))
	for i := range roots {
		n := toNode(&roots[i])
		byID[n.ID] = n
		all = append(all, n)
		out = append(out, n)
	}

	if rootDepth < s.maxDepth {
		rest, err := s.loadDescendants(ctx, postID, rootDepth, roots, sort)
		if err != nil {
			return nil, err
		}

		for i := range rest {
			c := &rest[i]
			parent, ok := byID[*c.ParentID]
			if !ok {
				continue
			}
			n := toNode(c)
			parent.Replies = append(parent.Replies, n)
			byID[n.ID] = n
			all = append(all, n)
		}
	}

	ids := make([]uint, len(all))
	for i, n := range all {
		ids[i] = n.ID
	}
	counts, err := s.replyCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	votes, err := userVotes(s.db.WithContext(ctx), userID, "comment_id", ids)
	if err != nil {
		return nil, err
	}
	for _, n := range all {
		n.ReplyCount = counts[n.ID]
		n.UserVote = votes[n.ID]
	}
	return out, nil
}

func (s *CommentService) fetchLimit() int {
	if s.replyFetch > 0 {
		return s.replyFetch
	}
	return maxReplyFetch
}

// loadDescendants 先一次取出帖子内 rootDepth 以下的全部回复；
// 超过上限时改为从 roots 出发逐层加载，只取这一页的子树。
// 结果按 depth 升序排列
func (s *CommentService) loadDescendants(ctx context.Context, postID uint, rootDepth int, roots []models.Comment, sort CommentSort) ([]models.Comment, error) {
	budget := s.fetchLimit()
	var rest []models.Comment
	q := s.db.WithContext(ctx).Preload("User").
		Where("post_id = ? AND parent_id IS NOT NULL AND depth > ? AND depth <= ?", postID, rootDepth, s.maxDepth).
		Order("depth ASC")
	if err := pagination.OrderDesc(q, commentColumns(sort)...).Limit(budget + 1).Find(&rest).Error; err != nil {
		return nil, Internal("load replies", err)
	}
	if len(rest) <= budget {
		return rest, nil
	}

	slog.Warn("Reply fetch limit reached, loading page subtree by level", "post_id", postID, "limit", budget)
	frontier := make([]uint, len(roots))
	for i := range roots {
		frontier[i] = roots[i].ID
	}
	rest = rest[:0]
	for depth := rootDepth + 1; depth <= s.maxDepth && len(frontier) > 0 && len(rest) < budget; depth++ {
		var level []models.Comment
		q := s.db.WithContext(ctx).Preload("User").Where("parent_id IN ?", frontier)
		if err := pagination.OrderDesc(q, commentColumns(sort)...).Limit(budget - len(rest)).Find(&level).Error; err != nil {
			return nil, Internal("load replies", err)
		}
		frontier = frontier[:0]
		for i := range level {
			frontier = append(frontier, level[i].ID)
		}
		rest = append(rest, level...)
	}
	if len(rest) == budget {
		slog.Warn("Reply fetch limit reached within page, deep replies truncated", "post_id", postID, "limit", budget)
	}
	return rest, nil
}

func (s *CommentService) replyCounts(ctx context.Context, ids []uint) (map[uint]int, error) {
	type row struct {
		ParentID uint
		Count    int
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Comment{}).
		Select("parent_id, COUNT(*) AS count").
		Where("parent_id IN ?", ids).
		Group("parent_id").
		Scan(&rows).Error
	if err != nil {
		return nil, Internal("count replies", err)
	}
	counts := make(map[uint]int, len(rows))
	for _, r := range rows {
		counts[r.ParentID] = r.Count
	}
	return counts, nil
}

func toNode(c *models.Comment) *CommentNode {
	n := &CommentNode{
		ID:        c.ID,
		PostID:    c.PostID,
		ParentID:  c.ParentID,
		Depth:     c.Depth,
		VoteScore: c.VoteScore,
		CreatedAt: c.CreatedAt,
		Replies:   []*CommentNode{},
	}
	if c.DeletedAt != nil {
		n.IsDeleted = true
		n.Content = "[deleted]"
		n.ContentHTML = template.HTML("<p>[deleted]</p>")
		return n
	}
	n.AuthorID = c.UserID
	n.AuthorName = c.User.Username
	n.AuthorAvatar = c.User.Avatar
	n.Content = c.Content
	n.ContentHTML = utils.RenderMarkdown(c.Content)
	return n
}

type CreateCommentInput struct {
	PostID   uint   `json:"postId" validate:"required"`
	ParentID *uint  `json:"parentId"`
	Content  string `json:"content" validate:"required,max=10000"`
}

func (s *CommentService) CreateComment(ctx context.Context, userID uint, in CreateCommentInput) (*CommentNode, error) {
	in.Content = strings.TrimSpace(in.Content)
	if err := check(in); err != nil {
		return nil, err
	}

	var post models.Post
	if err := s.db.WithContext(ctx).Preload("User").Preload("Community").First(&post, in.PostID).Error; err != nil {
		return nil, postLookupError(err)
	}
	if _, err := s.access.Require(ctx, userID, post.CommunityID, RoleMember, "Only members can comment in this community"); err != nil {
		return nil, err
	}

	depth := 0
	var parent models.Comment
	if in.ParentID != nil {
		err := s.db.WithContext(ctx).Preload("User").First(&parent, *in.ParentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && parent.PostID != post.ID) {
			return nil, Validation("Parent comment does not belong to this post")
		}
		if err != nil {
			return nil, Internal("load parent comment", err)
		}
		if parent.DeletedAt != nil {
			return nil, Validation("Cannot reply to a deleted comment")
		}
		depth = parent.Depth + 1
		if depth > s.maxDepth {
			return nil, Validation("Maximum reply depth reached")
		}
	}

	comment := models.Comment{
		PostID:    post.ID,
		UserID:    userID,
		ParentID:  in.ParentID,
		Depth:     depth,
		Content:   in.Content,
		CreatedAt: s.now(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", post.ID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error
	})
	if err != nil {
		return nil, Internal("create comment", err)
	}

	s.notifyComment(ctx, userID, &post, &comment, &parent)

	if err := s.db.WithContext(ctx).Preload("User").First(&comment, comment.ID).Error; err != nil {
		return nil, Internal("reload comment", err)
	}
	return toNode(&comment), nil
}

func (s *CommentService) notifyComment(ctx context.Context, actorID uint, post *models.Post, comment *models.Comment, parent *models.Comment) {
	var actor models.User
	if err := s.db.WithContext(ctx).First(&actor, actorID).Error; err != nil {
		slog.Error("Failed to load comment author for notification", "user_id", actorID, "error", err)
		return
	}

	postLink := fmt.Sprintf("/c/%s/p/%s#comment-%d", post.Community.Slug, post.Slug, comment.ID)
	excerpt := utils.Excerpt(comment.Content, 140)
	title := template.HTMLEscapeString(post.Title)

	if parent.ID != 0 {
		s.notifications.Notify(ctx, parent.UserID, actorID, models.NotificationTypeReplyComment,
			fmt.Sprintf(`replied to your comment on <a href="%s">%s</a>`, postLink, title))
		if parent.UserID != actorID {
			s.mail.SendReplyNotification(parent.User.Email, actor.Username, post.Title, excerpt, s.link(postLink))
		}
		return
	}
	s.notifications.Notify(ctx, post.UserID, actorID, models.NotificationTypeCommentPost,
		fmt.Sprintf(`commented on your post <a href="%s">%s</a>`, postLink, title))
	if post.UserID != actorID {
		s.mail.SendReplyNotification(post.User.Email, actor.Username, post.Title, excerpt, s.link(postLink))
	}
}

// DeleteComment 保留节点只打删除标记，子回复仍可见
func (s *CommentService) DeleteComment(ctx context.Context, userID, commentID uint) error {
	var comment models.Comment
	if err := s.db.WithContext(ctx).Preload("Post").First(&comment, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFound("Comment not found")
		}
		return Internal("load comment", err)
	}
	if comment.DeletedAt != nil {
		return nil
	}
	if err := s.access.CanModerate(ctx, userID, comment.UserID, comment.Post.CommunityID, "Only the author or moderators can delete this comment"); err != nil {
		return err
	}

	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Comment{}).Where("id = ? AND deleted_at IS NULL", comment.ID).Update("deleted_at", now)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		return tx.Model(&models.Post{}).Unscoped().Where("id = ? AND comment_count > 0", comment.PostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count - 1")).Error
	})
	if err != nil {
		return Internal("delete comment", err)
	}
	if userID != comment.UserID {
		s.ranking.ScheduleUpdate(comment.PostID)
	}
	return nil
}
