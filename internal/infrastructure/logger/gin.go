package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// requestIDKey matches the gin key written by the RequestID middleware
const requestIDKey = "request_id"

// GinMiddleware attaches a request scoped logger to the request context and
// writes one access log line per request
func GinMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request

		fields := append([]zap.Field{
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
		}, TraceFields(req.Context())...)
		reqLog := log.With(fields...)
		c.Request = req.WithContext(WithContext(req.Context(), reqLog))

		c.Next()

		status := c.Writer.Status()
		access := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("bytes", c.Writer.Size()),
		}
		if route := c.FullPath(); route != "" {
			access = append(access, zap.String("route", route))
		}
		if len(c.Errors) > 0 {
			access = append(access, zap.Strings("errors", c.Errors.Errors()))
		}

		level := zapcore.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zapcore.ErrorLevel
		} else if status >= http.StatusBadRequest {
			level = zapcore.WarnLevel
		}
		if ce := reqLog.Check(level, "HTTP request"); ce != nil {
			ce.Write(access...)
		}
	}
}

// Recovery turns a handler panic into a 500 and logs it with the stack
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log.Error("Panic recovered",
				zap.String("request_id", c.GetString(requestIDKey)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", rec),
				zap.Stack("stacktrace"),
			)
			c.AbortWithStatus(http.StatusInternalServerError)
		}()
		c.Next()
	}
}
