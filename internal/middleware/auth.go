package middleware

import (
	"net/http"
	"strings"

	"townsquare/internal/models"
	"townsquare/internal/services"
	"townsquare/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const CheckUserKey = "user"
const UnreadCountKey = "unread_count"
const SessionUserKey = "user_id"

// LoadUser 从 session 或 Bearer token 中解析当前用户
func LoadUser(users *services.UserService, notifications *services.NotificationService, tokens *utils.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := sessionUserID(c)
		if userID == 0 && tokens != nil {
			if raw, ok := bearerToken(c.GetHeader("Authorization")); ok {
				if id, err := tokens.Parse(raw); err == nil {
					userID = id
				}
			}
		}

		if userID != 0 {
			user, err := users.Get(c.Request.Context(), userID)
			if err == nil {
				c.Set(CheckUserKey, user)
				if count, err := notifications.UnreadCount(c.Request.Context(), user.ID); err == nil {
					c.Set(UnreadCountKey, count)
				}
			}
		}
		c.Next()
	}
}

// AuthRequired 未登录时返回 401
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Please log in first"})
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(CheckUserKey); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}

// CurrentUserID 匿名访问返回 0
func CurrentUserID(c *gin.Context) uint {
	if user := CurrentUser(c); user != nil {
		return user.ID
	}
	return 0
}

func sessionUserID(c *gin.Context) uint {
	switch v := sessions.Default(c).Get(SessionUserKey).(type) {
	case uint:
		return v
	case int:
		if v > 0 {
			return uint(v)
		}
	case int64:
		if v > 0 {
			return uint(v)
		}
	}
	return 0
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
