package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether Postgres (and Redis, when configured) answer.
// A Redis failure degrades but does not fail the check.
type HealthHandler struct {
	DB     Pinger
	Cache  Pinger
	Logger *slog.Logger
}

// --- GET /healthz ---

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]string{"status": "ok", "database": "ok"}
	if err := h.DB.Ping(ctx); err != nil {
		h.Logger.Error("health: database ping failed", "error", err)
		resp["status"], resp["database"] = "unavailable", "down"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if h.Cache != nil {
		resp["cache"] = "ok"
		if err := h.Cache.Ping(ctx); err != nil {
			h.Logger.Warn("health: cache ping failed", "error", err)
			resp["status"], resp["cache"] = "degraded", "down"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
