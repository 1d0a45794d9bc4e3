package handlers

import (
	"log/slog"
	"net/http"

	"townsquare/internal/middleware"
	"townsquare/internal/services"
	"townsquare/internal/utils"

	"github.com/gin-gonic/gin"
)

// Respond 成功结果统一为 {"success":true,"data":...}
func Respond(c *gin.Context, code int, data any) {
	c.JSON(code, gin.H{"success": true, "data": data})
}

// Fail 按错误类型映射状态码，内部错误只记录日志，不向外暴露细节
func Fail(c *gin.Context, err error) {
	kind := services.KindOf(err)
	if kind == services.KindInternal {
		slog.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(statusFor(kind), gin.H{"success": false, "error": services.Message(err)})
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Render 注入当前用户、未读通知数和当前路径
func Render(c *gin.Context, code int, name string, obj gin.H) {
	if obj == nil {
		obj = gin.H{}
	}

	if user := middleware.CurrentUser(c); user != nil {
		obj["CurrentUser"] = user
		if count, ok := c.Get(middleware.UnreadCountKey); ok {
			obj["UnreadCount"] = int(count.(int64))
		} else {
			obj["UnreadCount"] = 0
		}
	}
	obj["CurrentPath"] = c.Request.URL.Path

	c.HTML(code, name, obj)
}

func RenderError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	if kind == services.KindInternal {
		slog.Error("Page failed", "path", c.Request.URL.Path, "error", err)
	}
	Render(c, statusFor(kind), "error.html", gin.H{"Title": "Error", "Error": services.Message(err)})
}

var errBadBody = services.Validation("Invalid request body")

// bindJSON 解析失败时直接写出 400
func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		Fail(c, errBadBody)
		return false
	}
	return true
}

// paramID 解析路径中的正整数 ID
func paramID(c *gin.Context, name string) (uint, bool) {
	id := utils.StringToUint(c.Param(name))
	if id == 0 {
		Fail(c, services.NotFound("Not found"))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) int {
	return utils.StringToInt(c.Query(name))
}
