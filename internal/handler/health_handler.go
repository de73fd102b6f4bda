// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/magictalent/ai-agent-backend/internal/scheduler"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StatsSource reports scheduler state; nil when the server runs no scheduler.
type StatsSource interface {
	Stats() scheduler.Stats
}

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	DB        Pinger
	Scheduler StatsSource
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}
	if h.Scheduler != nil {
		body["scheduler"] = h.Scheduler.Stats()
	}

	WriteJSON(w, status, body)
}
