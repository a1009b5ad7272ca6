package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/multi-agent/agent-shell/pkg/errors"
	"github.com/multi-agent/agent-shell/pkg/logger"
)

// 统一响应辅助, 所有 handler 共用。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func errorBody(code, message string) gin.H {
	return gin.H{"success": false, "error": gin.H{"code": code, "message": message}}
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, errorBody(code, message))
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, errorBody("not_found", message))
}

func conflict(c *gin.Context, code, message string) {
	c.JSON(http.StatusConflict, errorBody(code, message))
}

func unavailable(c *gin.Context, message string) {
	c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", message))
}

func serverError(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Error("internal error", logger.FieldError, err)
	c.JSON(http.StatusInternalServerError, errorBody("internal_error", "服务器内部错误"))
}

// fail 按错误码选择响应。
func fail(c *gin.Context, err error) {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeValidation:
		badRequest(c, "invalid_input", err.Error())
	case apperrors.CodeNotFound:
		notFound(c, err.Error())
	case apperrors.CodeClosed:
		conflict(c, "closed", err.Error())
	case apperrors.CodeUnavailable:
		unavailable(c, err.Error())
	default:
		serverError(c, err)
	}
}
