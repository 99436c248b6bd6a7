package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/coopportal/backend/internal/infrastructure/auth"
	"github.com/coopportal/backend/internal/infrastructure/logger"
	"github.com/coopportal/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gin keys written by Authenticate
const (
	ClaimsKey = "auth_claims"
	UserIDKey = "auth_user_id"
)

const bearerScheme = "Bearer"

// AuthConfig configures Authenticate
type AuthConfig struct {
	Tokens *auth.JWTService
	// Public paths pass through without a token
	Public []string
	Logger *zap.Logger
}

// Authenticate validates the bearer token and stores its claims on the
// gin context. The request logger is tagged with the user id.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if slices.Contains(cfg.Public, c.Request.URL.Path) {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			rejectToken(c, log, auth.ErrInvalidToken)
			return
		}
		claims, err := cfg.Tokens.ValidateToken(token)
		if err != nil {
			rejectToken(c, log, err)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(UserIDKey, claims.UserID)
		ctx := c.Request.Context()
		ctx, _ = logger.WithUserID(ctx, logger.FromContext(ctx), claims.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequirePermission aborts with 403 unless the caller holds one of perms.
// It must run after Authenticate.
func RequirePermission(log *zap.Logger, perms ...string) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims != nil && claims.HasAnyPermission(perms...) {
			c.Next()
			return
		}
		log.Warn("Permission denied",
			zap.String("user_id", UserID(c)),
			zap.Strings("required", perms),
			zap.String("path", c.Request.URL.Path),
		)
		c.AbortWithStatusJSON(http.StatusForbidden,
			dto.Fail(dto.ErrCodeForbidden, "Insufficient permissions"))
	}
}

// Claims returns the claims stored by Authenticate, or nil
func Claims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(ClaimsKey)
	claims, _ := v.(*auth.Claims)
	return claims
}

// UserID returns the authenticated user id, or ""
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func rejectToken(c *gin.Context, log *zap.Logger, err error) {
	code, msg := dto.ErrCodeInvalidToken, "Invalid token"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, msg = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		msg = "Token is not yet valid"
	}
	log.Warn("Authentication failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.Fail(code, msg))
}
