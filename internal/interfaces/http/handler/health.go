package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/coopportal/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// DatabasePinger checks database connectivity; *sql.DB satisfies it
type DatabasePinger interface {
	PingContext(ctx context.Context) error
}

// SchedulerState reports whether the job scheduler accepts work
type SchedulerState interface {
	IsRunning() bool
}

// NextRunProvider reports when the monthly trigger fires next
type NextRunProvider interface {
	NextRunAt() time.Time
}

// HealthHandler serves the liveness and readiness probe
type HealthHandler struct {
	db        DatabasePinger
	scheduler SchedulerState
	trigger   NextRunProvider
	logger    *zap.Logger
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler. scheduler and trigger may be nil
// when scheduling is disabled.
func NewHealthHandler(db DatabasePinger, scheduler SchedulerState, trigger NextRunProvider, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		db:        db,
		scheduler: scheduler,
		trigger:   trigger,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Health reports database and scheduler state.
// GET /health returns 200 when every check is ok and 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	resp := dto.HealthResponse{
		Status: "ok",
		Checks: make(map[string]string),
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp.Checks["database"] = "ok"
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("Health check: database ping failed", zap.Error(err))
		resp.Checks["database"] = "unavailable"
		resp.Status = "degraded"
	}

	switch {
	case h.scheduler == nil:
		resp.Checks["scheduler"] = "disabled"
	case h.scheduler.IsRunning():
		resp.Checks["scheduler"] = "ok"
	default:
		resp.Checks["scheduler"] = "stopped"
		resp.Status = "degraded"
	}

	if h.trigger != nil {
		next := h.trigger.NextRunAt()
		resp.NextRunAt = &next
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.OK(resp))
}
