package router

import (
	"github.com/coopportal/backend/internal/infrastructure/auth"
	"github.com/coopportal/backend/internal/infrastructure/logger"
	"github.com/coopportal/backend/internal/infrastructure/telemetry"
	"github.com/coopportal/backend/internal/interfaces/http/handler"
	"github.com/coopportal/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// defaultMaxBodySize caps request bodies; the ops API only accepts tiny JSON documents
const defaultMaxBodySize int64 = 64 << 10

// EngineConfig carries everything needed to build the ops HTTP engine
type EngineConfig struct {
	Logger        *zap.Logger
	JWTService    *auth.JWTService
	MeterProvider *telemetry.MeterProvider
	Tracing       middleware.TracingConfig
	MaxBodySize   int64

	Health     *handler.HealthHandler
	Settlement *handler.SettlementHandler
}

// NewEngine builds the gin engine with the middleware stack and every route.
//
// Middleware order: request ID, recovery, tracing, request logging, metrics,
// security headers, body limit. /api/v1 routes additionally require a bearer
// token.
func NewEngine(cfg EngineConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(cfg.Tracing))
	engine.Use(middleware.TraceAnnotations())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Metrics(cfg.MeterProvider, log))
	engine.Use(middleware.SecureHeaders())
	engine.Use(middleware.BodyLimit(cfg.MaxBodySize))

	engine.GET("/health", cfg.Health.Health)

	api := engine.Group("/api/v1", middleware.Authenticate(middleware.AuthConfig{
		Tokens: cfg.JWTService,
		Logger: log,
	}))
	registerSettlementRoutes(api, cfg.Settlement, log)

	return engine
}

// registerSettlementRoutes mounts /settlement. Every route requires the
// settlement:run permission.
func registerSettlementRoutes(api *gin.RouterGroup, h *handler.SettlementHandler, log *zap.Logger) {
	g := api.Group("/settlement", middleware.RequirePermission(log, auth.PermissionSettlementRun))
	g.GET("/runs/latest", h.GetLatestRun)
	g.POST("/runs", h.TriggerRun)
}
