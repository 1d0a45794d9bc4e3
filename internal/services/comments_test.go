package services

import (
	"fmt"
	"testing"
	"time"

	"townsquare/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(t *testing.T, f *fixture, userID, postID uint, parent *CommentNode, content string) *CommentNode {
	t.Helper()
	in := CreateCommentInput{PostID: postID, Content: content}
	if parent != nil {
		in.ParentID = &parent.ID
	}
	n, err := f.svc.Comments.CreateComment(f.ctx, userID, in)
	require.NoError(t, err)
	return n
}

func TestCommentTreeDepthAndReplyCount(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Trees", true)
	p := f.post(t, c, owner, "root post", time.Hour, 0, false)

	root := reply(t, f, owner.ID, p.ID, nil, "root")
	a := reply(t, f, owner.ID, p.ID, root, "a")
	b := reply(t, f, owner.ID, p.ID, root, "b")
	reply(t, f, owner.ID, p.ID, a, "a1")
	other := reply(t, f, owner.ID, p.ID, nil, "other root")

	page, err := f.svc.Comments.GetPostComments(f.ctx, CommentListParams{PostID: p.ID, Sort: "new"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	// new 排序下后创建的在前
	assert.Equal(t, other.ID, page.Items[0].ID)
	top := page.Items[1]
	assert.Equal(t, root.ID, top.ID)
	assert.Equal(t, 2, top.ReplyCount)
	require.Len(t, top.Replies, 2)
	assert.Equal(t, []uint{b.ID, a.ID}, []uint{top.Replies[0].ID, top.Replies[1].ID})

	var walk func(n *CommentNode)
	walk = func(n *CommentNode) {
		assert.Equal(t, len(n.Replies), n.ReplyCount, "comment %d", n.ID)
		for _, child := range n.Replies {
			assert.Equal(t, n.Depth+1, child.Depth)
			walk(child)
		}
	}
	for _, n := range page.Items {
		walk(n)
	}

	var stored models.Post
	require.NoError(t, f.db.First(&stored, p.ID).Error)
	assert.Equal(t, 5, stored.CommentCount)
}

func TestCommentMaxDepth(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Deep", true)
	p := f.post(t, c, owner, "deep thread", time.Hour, 0, false)

	node := reply(t, f, owner.ID, p.ID, nil, "depth 0")
	chain := []*CommentNode{node}
	for d := 1; d <= DefaultMaxDepth; d++ {
		node = reply(t, f, owner.ID, p.ID, node, fmt.Sprintf("depth %d", d))
		assert.Equal(t, d, node.Depth)
		chain = append(chain, node)
	}

	_, err := f.svc.Comments.CreateComment(f.ctx, owner.ID, CreateCommentInput{PostID: p.ID, ParentID: &node.ID, Content: "too deep"})
	assert.Equal(t, KindValidation, kindOf(t, err))

	page, err := f.svc.Comments.GetPostComments(f.ctx, CommentListParams{PostID: p.ID})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	depth := 0
	for n := page.Items[0]; n != nil; depth++ {
		assert.LessOrEqual(t, n.Depth, DefaultMaxDepth)
		if len(n.Replies) == 0 {
			break
		}
		n = n.Replies[0]
	}
	assert.Equal(t, DefaultMaxDepth, depth)

	deepest, err := f.svc.Comments.GetCommentReplies(f.ctx, ReplyListParams{PostID: p.ID, ParentID: chain[DefaultMaxDepth].ID})
	require.NoError(t, err)
	assert.Empty(t, deepest.Items)
}

func TestCommentPaging(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Busy", true)
	p := f.post(t, c, owner, "busy thread", time.Hour, 0, false)

	root := reply(t, f, owner.ID, p.ID, nil, "root")
	var want []uint
	for i := 0; i < 7; i++ {
		n := reply(t, f, owner.ID, p.ID, root, fmt.Sprintf("reply %d", i))
		want = append([]uint{n.ID}, want...)
	}

	var got []uint
	cursor := ""
	for {
		page, err := f.svc.Comments.GetCommentReplies(f.ctx, ReplyListParams{PostID: p.ID, ParentID: root.ID, Sort: "new", Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		for _, n := range page.Items {
			got = append(got, n.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, want, got)
}

func TestCommentsOfMissingPost(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Gone", true)
	p := f.post(t, c, owner, "soon gone", time.Hour, 0, false)
	reply(t, f, owner.ID, p.ID, nil, "orphan")

	page, err := f.svc.Comments.GetPostComments(f.ctx, CommentListParams{PostID: 4242})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)

	require.NoError(t, f.svc.Posts.DeletePost(f.ctx, owner.ID, p.ID))
	page, err = f.svc.Comments.GetPostComments(f.ctx, CommentListParams{PostID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = f.svc.Comments.CreateComment(f.ctx, owner.ID, CreateCommentInput{PostID: p.ID, Content: "late"})
	assert.Equal(t, KindNotFound, kindOf(t, err))
}

func TestDeleteCommentKeepsReplies(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	author := f.user(t, "author")
	other := f.user(t, "other")
	c := f.community(t, owner, "Tombstones", true)
	f.join(t, c, author, models.RoleMember)
	f.join(t, c, other, models.RoleMember)
	p := f.post(t, c, owner, "tombstones", time.Hour, 0, false)

	parent := reply(t, f, author.ID, p.ID, nil, "will be removed")
	child := reply(t, f, other.ID, p.ID, parent, "still here")

	err := f.svc.Comments.DeleteComment(f.ctx, other.ID, parent.ID)
	assert.Equal(t, KindForbidden, kindOf(t, err))
	require.NoError(t, f.svc.Comments.DeleteComment(f.ctx, author.ID, parent.ID))
	require.NoError(t, f.svc.Comments.DeleteComment(f.ctx, author.ID, parent.ID))

	page, err := f.svc.Comments.GetPostComments(f.ctx, CommentListParams{PostID: p.ID})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	tomb := page.Items[0]
	assert.True(t, tomb.IsDeleted)
	assert.Equal(t, "[deleted]", tomb.Content)
	assert.Zero(t, tomb.AuthorID)
	require.Len(t, tomb.Replies, 1)
	assert.Equal(t, child.ID, tomb.Replies[0].ID)

	_, err = f.svc.Comments.CreateComment(f.ctx, other.ID, CreateCommentInput{PostID: p.ID, ParentID: &parent.ID, Content: "reply to ghost"})
	assert.Equal(t, KindValidation, kindOf(t, err))

	var stored models.Post
	require.NoError(t, f.db.First(&stored, p.ID).Error)
	assert.Equal(t, 1, stored.CommentCount)
}

func TestCommentNotifiesPostAuthor(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	commenter := f.user(t, "commenter")
	c := f.community(t, owner, "Chatter", true)
	f.join(t, c, commenter, models.RoleMember)
	p := f.post(t, c, owner, "talk to me", time.Hour, 0, false)

	first := reply(t, f, commenter.ID, p.ID, nil, "hello")
	reply(t, f, owner.ID, p.ID, first, "hi back")

	n, err := f.svc.Notifications.UnreadCount(f.ctx, owner.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = f.svc.Notifications.UnreadCount(f.ctx, commenter.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Len(t, f.mailer.to(owner.Email), 1)
	assert.Len(t, f.mailer.to(commenter.Email), 1)
}

func TestReplyCursorFromOtherThreadIsIgnored(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Threads", true)
	p := f.post(t, c, owner, "threads", time.Hour, 0, false)

	a := reply(t, f, owner.ID, p.ID, nil, "a")
	b := reply(t, f, owner.ID, p.ID, nil, "b")
	foreign := reply(t, f, owner.ID, p.ID, b, "b1")
	var want []uint
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		n := reply(t, f, owner.ID, p.ID, a, fmt.Sprintf("a%d", i))
		want = append([]uint{n.ID}, want...)
	}

	page, err := f.svc.Comments.GetCommentReplies(f.ctx, ReplyListParams{
		PostID:   p.ID,
		ParentID: a.ID,
		Sort:     "new",
		Limit:    10,
		Cursor:   fmt.Sprint(foreign.ID),
	})
	require.NoError(t, err)
	got := make([]uint, len(page.Items))
	for i, n := range page.Items {
		got[i] = n.ID
	}
	assert.Equal(t, want, got)
}

func TestReplyBudgetKeepsPageSubtree(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Busy", true)
	p := f.post(t, c, owner, "busy", time.Hour, 0, false)
	f.svc.Comments.replyFetch = 2

	quiet := reply(t, f, owner.ID, p.ID, nil, "quiet root")
	busy := reply(t, f, owner.ID, p.ID, nil, "busy root")
	mine := reply(t, f, owner.ID, p.ID, busy, "reply to busy")
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		reply(t, f, owner.ID, p.ID, quiet, fmt.Sprintf("noise %d", i))
	}

	page, err := f.svc.Comments.GetPostComments(f.ctx, CommentListParams{PostID: p.ID, Sort: "new", Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	root := page.Items[0]
	assert.Equal(t, busy.ID, root.ID)
	require.Len(t, root.Replies, 1)
	assert.Equal(t, mine.ID, root.Replies[0].ID)
	assert.Equal(t, 1, root.ReplyCount)
}
