package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

type stubSchedulerState bool

func (s stubSchedulerState) IsRunning() bool { return bool(s) }

type stubNextRun time.Time

func (s stubNextRun) NextRunAt() time.Time { return time.Time(s) }

func serveHealth(h *HealthHandler) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/health", h.Health)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	return w
}

func TestHealthHandler_Health(t *testing.T) {
	next := time.Date(2026, 11, 1, 2, 0, 0, 0, time.UTC)

	t.Run("healthy", func(t *testing.T) {
		h := NewHealthHandler(stubPinger{}, stubSchedulerState(true), stubNextRun(next), nil)

		w := serveHealth(h)

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeResponse(t, w).Data.(map[string]any)
		assert.Equal(t, "ok", data["status"])
		checks := data["checks"].(map[string]any)
		assert.Equal(t, "ok", checks["database"])
		assert.Equal(t, "ok", checks["scheduler"])
		assert.Equal(t, next.Format(time.RFC3339), data["next_run_at"])
		assert.NotEmpty(t, data["uptime"])
	})

	t.Run("database down", func(t *testing.T) {
		h := NewHealthHandler(stubPinger{err: errors.New("connection refused")}, stubSchedulerState(true), nil, nil)

		w := serveHealth(h)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		data := decodeResponse(t, w).Data.(map[string]any)
		assert.Equal(t, "degraded", data["status"])
		assert.Equal(t, "unavailable", data["checks"].(map[string]any)["database"])
	})

	t.Run("scheduler stopped", func(t *testing.T) {
		h := NewHealthHandler(stubPinger{}, stubSchedulerState(false), nil, nil)

		w := serveHealth(h)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "stopped", decodeResponse(t, w).Data.(map[string]any)["checks"].(map[string]any)["scheduler"])
	})

	t.Run("scheduling disabled", func(t *testing.T) {
		h := NewHealthHandler(stubPinger{}, nil, nil, nil)

		w := serveHealth(h)

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeResponse(t, w).Data.(map[string]any)
		assert.Equal(t, "disabled", data["checks"].(map[string]any)["scheduler"])
		assert.NotContains(t, data, "next_run_at")
	})
}
