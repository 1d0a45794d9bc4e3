package services

import (
	"fmt"
	"testing"
	"time"

	"townsquare/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectPosts(t *testing.T, f *fixture, communityID uint, sort string, limit int) []PostView {
	t.Helper()
	var all []PostView
	cursor := ""
	for i := 0; i < 50; i++ {
		page, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: communityID, Sort: sort, Limit: limit, Cursor: cursor})
		require.NoError(t, err)
		all = append(all, page.Items...)
		if !page.HasMore {
			return all
		}
		require.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
	}
	t.Fatal("pagination did not terminate")
	return nil
}

func TestGetPostsVisitsEveryPostOnce(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Gardening", true)

	scores := []int{3, 0, 12, -2, 5, 5, 1, 0, 8, 3, 3, 40, 0, 2, 7, 1, -1, 0, 9, 4, 4, 6, 2}
	var created []*models.Post
	for i, score := range scores {
		p := f.post(t, c, owner, "post "+string(rune('a'+i)), time.Duration(i)*37*time.Minute, score, false)
		created = append(created, p)
	}

	for _, sort := range []string{"new", "top", "hot"} {
		t.Run(sort, func(t *testing.T) {
			got := collectPosts(t, f, c.ID, sort, 5)
			gotIDs := postIDs(got)
			assert.Len(t, gotIDs, len(created))

			seen := map[uint]bool{}
			for _, id := range gotIDs {
				assert.False(t, seen[id], "post %d returned twice", id)
				seen[id] = true
			}
		})
	}

	newest := collectPosts(t, f, c.ID, "new", 5)
	for i := 1; i < len(newest); i++ {
		assert.False(t, newest[i].CreatedAt.After(newest[i-1].CreatedAt))
	}

	top := collectPosts(t, f, c.ID, "top", 7)
	for i := 1; i < len(top); i++ {
		assert.LessOrEqual(t, top[i].VoteScore, top[i-1].VoteScore)
	}

	hot := collectPosts(t, f, c.ID, "hot", 4)
	for i := 1; i < len(hot); i++ {
		assert.LessOrEqual(t, hot[i].HotScore, hot[i-1].HotScore+1e-9)
	}
}

func TestGetPostsPinnedOnlyOnFirstPage(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Announcements", true)

	p1 := f.post(t, c, owner, "rules", 48*time.Hour, 1, true)
	p2 := f.post(t, c, owner, "welcome", 24*time.Hour, 0, true)
	var regular []uint
	for i := 0; i < 5; i++ {
		p := f.post(t, c, owner, "regular "+string(rune('a'+i)), time.Duration(i)*time.Hour, 0, false)
		regular = append(regular, p.ID)
	}

	first, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 3})
	require.NoError(t, err)
	require.Len(t, first.Items, 3)
	assert.Equal(t, []uint{p2.ID, p1.ID, regular[0]}, postIDs(first.Items))
	assert.True(t, first.HasMore)

	rest := collectPosts(t, f, c.ID, "new", 3)
	var afterFirst []uint
	cursor := first.NextCursor
	for cursor != "" {
		page, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		for _, item := range page.Items {
			assert.False(t, item.IsPinned)
		}
		afterFirst = append(afterFirst, postIDs(page.Items)...)
		cursor = page.NextCursor
	}
	assert.Equal(t, regular[1:], afterFirst)
	assert.Len(t, rest, 7)
}

func TestGetPostsCursorOnPinnedRestartsRegularList(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Pins", true)

	f.post(t, c, owner, "pin one", time.Hour, 0, true)
	f.post(t, c, owner, "pin two", 2*time.Hour, 0, true)
	a := f.post(t, c, owner, "regular a", 3*time.Hour, 0, false)
	b := f.post(t, c, owner, "regular b", 4*time.Hour, 0, false)

	first, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 2})
	require.NoError(t, err)
	require.True(t, first.HasMore)

	second, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID, b.ID}, postIDs(second.Items))
	assert.False(t, second.HasMore)
}

func TestGetPostsKeepsEveryPinnedPostOnFirstPage(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Noticeboard", true)

	for i := 0; i < 30; i++ {
		f.post(t, c, owner, fmt.Sprintf("pinned %d", i), time.Duration(i)*time.Minute, 0, true)
	}
	for i := 0; i < 30; i++ {
		f.post(t, c, owner, fmt.Sprintf("regular %d", i), time.Duration(i)*time.Hour, 0, false)
	}

	first, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 50})
	require.NoError(t, err)
	require.Len(t, first.Items, 50)
	pinned := 0
	for _, item := range first.Items {
		if item.IsPinned {
			pinned++
		}
	}
	assert.Equal(t, 30, pinned)
	for _, item := range first.Items[:30] {
		assert.True(t, item.IsPinned)
	}
	require.True(t, first.HasMore)

	second, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 50, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Len(t, second.Items, 10)
	assert.False(t, second.HasMore)
}

func TestGetPostsPinnedBeyondLimitSqueezesRegularPosts(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Crowded", true)

	for i := 0; i < 5; i++ {
		f.post(t, c, owner, fmt.Sprintf("pinned %d", i), time.Duration(i)*time.Minute, 0, true)
	}
	regular := f.post(t, c, owner, "regular", 2*time.Hour, 0, false)

	first, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 3})
	require.NoError(t, err)
	require.Len(t, first.Items, 3)
	for _, item := range first.Items {
		assert.True(t, item.IsPinned)
	}
	require.True(t, first.HasMore)

	second, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 3, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []uint{regular.ID}, postIDs(second.Items))
	assert.False(t, second.HasMore)
}

func TestSoftDeletedPostsAreHidden(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Trash", true)

	keep := f.post(t, c, owner, "keep", time.Hour, 0, false)
	gone := f.post(t, c, owner, "gone", 2*time.Hour, 0, false)
	last := f.post(t, c, owner, "last", 3*time.Hour, 0, false)

	// 先缓存匿名首页，删除后缓存应失效
	_, err := f.svc.Posts.GetPublicPosts(f.ctx, PublicPostParams{Sort: "new", Limit: 10})
	require.NoError(t, err)

	first, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []uint{keep.ID, gone.ID}, postIDs(first.Items))

	require.NoError(t, f.svc.Posts.DeletePost(f.ctx, owner.ID, gone.ID))

	_, err = f.svc.Posts.GetPostByID(f.ctx, gone.ID, 0)
	assert.Equal(t, KindNotFound, kindOf(t, err))
	_, err = f.svc.Posts.GetPostBySlug(f.ctx, c.ID, gone.Slug, 0)
	assert.Equal(t, KindNotFound, kindOf(t, err))

	all := collectPosts(t, f, c.ID, "new", 10)
	assert.Equal(t, []uint{keep.ID, last.ID}, postIDs(all))

	public, err := f.svc.Posts.GetPublicPosts(f.ctx, PublicPostParams{Sort: "new", Limit: 10})
	require.NoError(t, err)
	assert.NotContains(t, postIDs(public.Items), gone.ID)

	// 已删除的帖子仍可作为游标
	second, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "new", Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []uint{last.ID}, postIDs(second.Items))
}

func TestUnknownCursorFallsBackToNewest(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	c := f.community(t, owner, "Fallback", true)

	old := f.post(t, c, owner, "old but loved", 72*time.Hour, 50, false)
	fresh := f.post(t, c, owner, "fresh", time.Minute, 0, false)

	page, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: c.ID, Sort: "top", Limit: 10, Cursor: "987654"})
	require.NoError(t, err)
	assert.Equal(t, []uint{fresh.ID, old.ID}, postIDs(page.Items))

	public, err := f.svc.Posts.GetPublicPosts(f.ctx, PublicPostParams{Sort: "top", Limit: 10, Cursor: "987654"})
	require.NoError(t, err)
	assert.Equal(t, []uint{fresh.ID, old.ID}, postIDs(public.Items))
}

func TestPrivateCommunityPosts(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	outsider := f.user(t, "outsider")
	private := f.community(t, owner, "Secret Club", false)
	open := f.community(t, owner, "Town Hall", true)

	hidden := f.post(t, private, owner, "hidden", time.Hour, 0, false)
	visible := f.post(t, open, owner, "visible", time.Hour, 0, false)

	_, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: private.ID, UserID: outsider.ID})
	assert.Equal(t, KindForbidden, kindOf(t, err))
	_, err = f.svc.Posts.GetPostByID(f.ctx, hidden.ID, outsider.ID)
	assert.Equal(t, KindForbidden, kindOf(t, err))

	page, err := f.svc.Posts.GetPosts(f.ctx, PostListParams{CommunityID: private.ID, UserID: owner.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{hidden.ID}, postIDs(page.Items))

	public, err := f.svc.Posts.GetPublicPosts(f.ctx, PublicPostParams{Sort: "new"})
	require.NoError(t, err)
	assert.Equal(t, []uint{visible.ID}, postIDs(public.Items))
}

func TestCreatePost(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	member := f.user(t, "member")
	stranger := f.user(t, "stranger")
	c := f.community(t, owner, "Writers", true)
	f.join(t, c, member, models.RoleMember)

	first, err := f.svc.Posts.CreatePost(f.ctx, member.ID, CreatePostInput{CommunityID: c.ID, Title: "Hello World", Content: "**hi**"})
	require.NoError(t, err)
	assert.Equal(t, "hello-world", first.Slug)
	assert.Contains(t, string(first.ContentHTML), "<strong>hi</strong>")
	assert.Equal(t, "member", first.AuthorName)

	second, err := f.svc.Posts.CreatePost(f.ctx, member.ID, CreatePostInput{CommunityID: c.ID, Title: "Hello world"})
	require.NoError(t, err)
	assert.Equal(t, "hello-world-2", second.Slug)

	bySlug, err := f.svc.Posts.GetPostBySlug(f.ctx, c.ID, "hello-world-2", 0)
	require.NoError(t, err)
	assert.Equal(t, second.ID, bySlug.ID)

	_, err = f.svc.Posts.CreatePost(f.ctx, stranger.ID, CreatePostInput{CommunityID: c.ID, Title: "Drive by"})
	assert.Equal(t, KindForbidden, kindOf(t, err))

	_, err = f.svc.Posts.CreatePost(f.ctx, member.ID, CreatePostInput{CommunityID: c.ID, Title: "  "})
	assert.Equal(t, KindValidation, kindOf(t, err))
}

func TestSetPinnedRequiresModerator(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	member := f.user(t, "member")
	c := f.community(t, owner, "Mods", true)
	f.join(t, c, member, models.RoleMember)
	p := f.post(t, c, member, "pin me", time.Hour, 0, false)

	err := f.svc.Posts.SetPinned(f.ctx, member.ID, p.ID, true)
	assert.Equal(t, KindForbidden, kindOf(t, err))

	require.NoError(t, f.svc.Posts.SetPinned(f.ctx, owner.ID, p.ID, true))
	view, err := f.svc.Posts.GetPostByID(f.ctx, p.ID, 0)
	require.NoError(t, err)
	assert.True(t, view.IsPinned)
}

func TestUpdatePostByAuthorOrModerator(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	author := f.user(t, "author")
	other := f.user(t, "other")
	c := f.community(t, owner, "Edits", true)
	f.join(t, c, author, models.RoleMember)
	f.join(t, c, other, models.RoleMember)
	p := f.post(t, c, author, "draft", time.Hour, 0, false)

	_, err := f.svc.Posts.UpdatePost(f.ctx, other.ID, p.ID, UpdatePostInput{Title: "hijacked"})
	assert.Equal(t, KindForbidden, kindOf(t, err))

	updated, err := f.svc.Posts.UpdatePost(f.ctx, author.ID, p.ID, UpdatePostInput{Title: "final", Content: "done"})
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Title)
	assert.Equal(t, p.Slug, updated.Slug)

	_, err = f.svc.Posts.UpdatePost(f.ctx, owner.ID, p.ID, UpdatePostInput{Title: "moderated"})
	assert.NoError(t, err)
	assert.Equal(t, "moderated", mustPost(t, f, p.ID).Title)
}

func mustPost(t *testing.T, f *fixture, id uint) *PostView {
	t.Helper()
	v, err := f.svc.Posts.GetPostByID(f.ctx, id, 0)
	require.NoError(t, err)
	return v
}
