package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"townsquare/internal/db"
	"townsquare/internal/models"
	"townsquare/internal/utils"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *fakeMailer) to(addr string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, s := range m.sent {
		if s.To == addr {
			out = append(out, s)
		}
	}
	return out
}

type published struct {
	ChannelID uint
	Payload   any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(channelID uint, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{ChannelID: channelID, Payload: payload})
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	db     *gorm.DB
	svc    *Services
	mailer *fakeMailer
	pub    *recordingPublisher
	clock  *testClock
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		db:     conn,
		mailer: &fakeMailer{},
		pub:    &recordingPublisher{},
		clock:  &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
		ctx:    context.Background(),
	}
	f.svc = New(Options{
		DB:        conn,
		Mail:      NewMailService(f.mailer, "https://town.test", true),
		Publisher: f.pub,
		Now:       f.clock.Now,
		SiteURL:   "https://town.test",
		LeaseTTL:  2 * time.Minute,
	})
	return f
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@town.test", Password: "x"}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) community(t *testing.T, owner *models.User, name string, public bool) *models.Community {
	t.Helper()
	c, err := f.svc.Communities.CreateCommunity(f.ctx, owner.ID, CreateCommunityInput{Name: name, IsPublic: public})
	require.NoError(t, err)
	return c
}

func (f *fixture) join(t *testing.T, c *models.Community, u *models.User, role string) {
	t.Helper()
	m := models.Membership{CommunityID: c.ID, UserID: u.ID, Role: role, CreatedAt: f.clock.Now()}
	require.NoError(t, f.db.Create(&m).Error)
}

// post 直接写库，便于构造任意时间和分数
func (f *fixture) post(t *testing.T, c *models.Community, author *models.User, title string, age time.Duration, score int, pinned bool) *models.Post {
	t.Helper()
	created := f.clock.Now().Add(-age)
	p := &models.Post{
		CommunityID: c.ID,
		UserID:      author.ID,
		Slug:        fmt.Sprintf("%s-%d", strings.ToLower(strings.ReplaceAll(title, " ", "-")), created.UnixNano()),
		Title:       title,
		VoteScore:   score,
		HotRank:     utils.HotRank(score, created),
		IsPinned:    pinned,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func ids[T any](items []T, id func(T) uint) []uint {
	out := make([]uint, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}

func postIDs(items []PostView) []uint {
	return ids(items, func(p PostView) uint { return p.ID })
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	require.Error(t, err)
	return KindOf(err)
}
