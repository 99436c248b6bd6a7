package handler

import (
	"errors"

	"github.com/coopportal/backend/internal/domain/shared"
	"github.com/coopportal/backend/internal/infrastructure/logger"
	"github.com/coopportal/backend/internal/interfaces/http/dto"
	"github.com/coopportal/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const internalMessage = "An unexpected error occurred"

func requestID(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDHeader)
}

// actor names the caller in logs
func actor(c *gin.Context) string {
	if id := middleware.UserID(c); id != "" {
		return id
	}
	return "anonymous"
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, dto.OK(data))
}

// fail writes an error envelope whose status follows from code
func fail(c *gin.Context, code, message string) {
	c.JSON(dto.StatusOf(code), dto.Fail(code, message).WithRequestID(requestID(c)))
}

// failWith maps err onto the API. Domain errors with a public code keep
// their message; everything else is logged and reported as internal.
func failWith(c *gin.Context, err error) {
	var de *shared.DomainError
	if errors.As(err, &de) {
		if code := dto.CodeForDomain(de.Code); code != dto.ErrCodeInternal {
			fail(c, code, de.Message)
			return
		}
	}
	logger.FromContext(c.Request.Context()).Error("Request failed", zap.Error(err))
	fail(c, dto.ErrCodeInternal, internalMessage)
}
