package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"townsquare/internal/chat"
	"townsquare/internal/db"
	"townsquare/internal/services"
	"townsquare/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type apiClient struct {
	t      *testing.T
	base   string
	http   *http.Client
	bearer string
}

func newServer(t *testing.T) (*httptest.Server, *services.Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, err := db.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	svc := services.New(services.Options{DB: conn, SiteURL: "http://town.test"})

	engine, err := New(Deps{
		Services:      svc,
		Hub:           chat.NewHub(),
		Tokens:        utils.NewTokenIssuer("test-secret", time.Hour),
		Captcha:       services.NewCaptchaServiceSeeded(7),
		SessionSecret: "session-secret",
		SiteURL:       "http://town.test",
	})
	require.NoError(t, err)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, svc
}

func newClient(t *testing.T, srv *httptest.Server) *apiClient {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &apiClient{t: t, base: srv.URL, http: &http.Client{Jar: jar}}
}

func (c *apiClient) do(method, path string, body any) (int, result) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var res result
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

func decode[T any](t *testing.T, res result) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(res.Data, &v))
	return v
}

// register 走完整的验证码流程并登录
func register(t *testing.T, c *apiClient, captcha *services.CaptchaService, name string) uint {
	t.Helper()
	_, answer := captcha.Generate()
	status, res := c.do(http.MethodGet, "/api/auth/captcha", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.Success)

	status, res = c.do(http.MethodPost, "/api/auth/register", map[string]any{
		"username": name,
		"email":    name + "@town.test",
		"password": "correct horse",
		"captcha":  fmt.Sprint(answer),
	})
	require.Equal(t, http.StatusCreated, status, res.Error)
	user := decode[struct{ ID uint }](t, res)

	status, res = c.do(http.MethodPost, "/api/auth/login", map[string]any{"email": name + "@town.test", "password": "correct horse"})
	require.Equal(t, http.StatusOK, status, res.Error)
	login := decode[struct{ Token string }](t, res)
	c.bearer = login.Token
	return user.ID
}

func TestAuthFlow(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t, srv)

	status, res := c.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, res.Success)
	assert.Equal(t, "Please log in first", res.Error)

	// 错误的验证码
	c.do(http.MethodGet, "/api/auth/captcha", nil)
	status, res = c.do(http.MethodPost, "/api/auth/register", map[string]any{
		"username": "eve", "email": "eve@town.test", "password": "correct horse", "captcha": "-1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Incorrect captcha answer", res.Error)

	captcha := services.NewCaptchaServiceSeeded(7)
	captcha.Generate()
	id := register(t, c, captcha, "alice")

	status, res = c.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, status)
	me := decode[struct {
		User struct{ ID uint }
	}](t, res)
	assert.Equal(t, id, me.User.ID)

	// 只用 token 也能访问
	tokenOnly := newClient(t, srv)
	tokenOnly.bearer = c.bearer
	status, _ = tokenOnly.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusOK, status)

	status, res = c.do(http.MethodPost, "/api/auth/login", map[string]any{"email": "alice@town.test", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid email or password", res.Error)
}

func TestCommunityPostAndVoteFlow(t *testing.T) {
	srv, _ := newServer(t)
	captcha := services.NewCaptchaServiceSeeded(7)
	owner := newClient(t, srv)
	register(t, owner, captcha, "owner")
	reader := newClient(t, srv)
	register(t, reader, captcha, "reader")

	status, res := owner.do(http.MethodPost, "/api/communities", map[string]any{"name": "Gardeners", "isPublic": true})
	require.Equal(t, http.StatusCreated, status, res.Error)
	community := decode[struct {
		ID   uint
		Slug string
	}](t, res)
	assert.Equal(t, "gardeners", community.Slug)

	status, res = owner.do(http.MethodGet, "/api/communities/gardeners", nil)
	require.Equal(t, http.StatusOK, status)

	path := fmt.Sprintf("/api/communities/%d/posts", community.ID)
	status, res = owner.do(http.MethodPost, path, map[string]any{"title": "Tomatoes", "content": "**ripe**"})
	require.Equal(t, http.StatusCreated, status, res.Error)
	post := decode[struct {
		ID          uint
		Slug        string
		ContentHTML string `json:"contentHtml"`
	}](t, res)
	assert.Contains(t, post.ContentHTML, "<strong>ripe</strong>")

	// 非成员不能发帖，但可以投票公开社区的帖子
	status, res = reader.do(http.MethodPost, path, map[string]any{"title": "Hi"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.False(t, res.Success)

	status, res = reader.do(http.MethodPost, fmt.Sprintf("/api/posts/%d/vote", post.ID), map[string]any{"value": 1})
	require.Equal(t, http.StatusOK, status, res.Error)
	vote := decode[services.VoteResult](t, res)
	assert.Equal(t, 1, vote.VoteScore)

	status, res = reader.do(http.MethodPost, fmt.Sprintf("/api/posts/%d/vote", post.ID), map[string]any{"value": 5})
	assert.Equal(t, http.StatusBadRequest, status)

	status, res = reader.do(http.MethodGet, path+"?sort=top", nil)
	require.Equal(t, http.StatusOK, status)
	page := decode[struct {
		Items []struct {
			ID        uint
			VoteScore int `json:"voteScore"`
			UserVote  int `json:"userVote"`
		}
		HasMore bool `json:"hasMore"`
	}](t, res)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Items[0].UserVote)

	status, res = reader.do(http.MethodGet, fmt.Sprintf("/api/communities/%d/posts/by-slug/%s", community.ID, post.Slug), nil)
	assert.Equal(t, http.StatusOK, status)

	status, res = reader.do(http.MethodGet, "/api/posts/9999", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Post not found", res.Error)

	status, res = reader.do(http.MethodPost, fmt.Sprintf("/api/posts/%d/comments", post.ID), map[string]any{"content": "Looks great"})
	assert.Equal(t, http.StatusForbidden, status)
	status, res = reader.do(http.MethodPost, fmt.Sprintf("/api/communities/%d/join", community.ID), nil)
	require.Equal(t, http.StatusOK, status, res.Error)
	status, res = reader.do(http.MethodPost, fmt.Sprintf("/api/posts/%d/comments", post.ID), map[string]any{"content": "Looks great"})
	require.Equal(t, http.StatusCreated, status, res.Error)
	status, res = owner.do(http.MethodGet, fmt.Sprintf("/api/posts/%d/comments", post.ID), nil)
	require.Equal(t, http.StatusOK, status)
	comments := decode[struct{ Items []struct{ Content string } }](t, res)
	require.Len(t, comments.Items, 1)
	assert.Equal(t, "Looks great", comments.Items[0].Content)

	status, res = owner.do(http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, "[]", string(res.Data))
}

func TestPagesAndOperationalEndpoints(t *testing.T) {
	srv, svc := newServer(t)
	captcha := services.NewCaptchaServiceSeeded(7)
	c := newClient(t, srv)
	userID := register(t, c, captcha, "host")

	ctx := t.Context()
	community, err := svc.Communities.CreateCommunity(ctx, userID, services.CreateCommunityInput{Name: "Bakers", IsPublic: true})
	require.NoError(t, err)
	post, err := svc.Posts.CreatePost(ctx, userID, services.CreatePostInput{CommunityID: community.ID, Title: "Sourdough starter", Content: "Feed it daily"})
	require.NoError(t, err)

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	status, body := get("/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Sourdough starter")

	status, body = get("/c/bakers")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Bakers")

	status, body = get("/c/bakers/p/" + post.Slug)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Feed it daily")

	status, body = get("/c/nowhere")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "Community not found")

	status, body = get("/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, body = get("/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "townsquare_http_requests_total")

	status, body = get("/sitemap.xml")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "http://town.test/c/bakers/p/"+post.Slug)

	status, body = get("/feed.xml")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, "<rss") && strings.Contains(body, "Sourdough starter"))

	status, body = get("/api/nothing-here")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"success":false,"error":"Not found"}`, body)
}
