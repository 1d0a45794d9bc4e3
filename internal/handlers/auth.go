package handlers

import (
	"net/http"
	"time"

	"townsquare/internal/middleware"
	"townsquare/internal/models"
	"townsquare/internal/services"
	"townsquare/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const captchaKey = "captcha_answer"

type AuthHandler struct {
	users         *services.UserService
	notifications *services.NotificationService
	captcha       *services.CaptchaService
	tokens        *utils.TokenIssuer
}

func NewAuthHandler(svc *services.Services, captcha *services.CaptchaService, tokens *utils.TokenIssuer) *AuthHandler {
	return &AuthHandler{
		users:         svc.Users,
		notifications: svc.Notifications,
		captcha:       captcha,
		tokens:        tokens,
	}
}

type registerRequest struct {
	services.RegisterInput
	Captcha string `json:"captcha"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Captcha 生成新的算术题，答案存入 session
func (h *AuthHandler) Captcha(c *gin.Context) {
	question, answer := h.captcha.Generate()
	session := sessions.Default(c)
	session.Set(captchaKey, answer)
	if err := session.Save(); err != nil {
		Fail(c, services.Internal("save session", err))
		return
	}
	Respond(c, http.StatusOK, gin.H{"question": question})
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	// 验证码只能使用一次
	session := sessions.Default(c)
	expected := session.Get(captchaKey)
	session.Delete(captchaKey)
	_ = session.Save()
	if !h.captcha.Verify(expected, req.Captcha) {
		Fail(c, services.Validation("Incorrect captcha answer"))
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.RegisterInput)
	if err != nil {
		Fail(c, err)
		return
	}
	Respond(c, http.StatusCreated, user)
}

// Login 浏览器使用 session，API 客户端使用返回的 token
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		Fail(c, err)
		return
	}

	token, expires, err := h.tokens.Issue(user.ID)
	if err != nil {
		Fail(c, services.Internal("issue token", err))
		return
	}
	session := sessions.Default(c)
	session.Set(middleware.SessionUserKey, user.ID)
	if err := session.Save(); err != nil {
		Fail(c, services.Internal("save session", err))
		return
	}
	Respond(c, http.StatusOK, loginResponse{User: user, Token: token, ExpiresAt: expires})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()
	Respond(c, http.StatusOK, nil)
}

func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var unread int64
	if v, ok := c.Get(middleware.UnreadCountKey); ok {
		unread = v.(int64)
	}
	Respond(c, http.StatusOK, gin.H{"user": user, "unreadCount": unread})
}
