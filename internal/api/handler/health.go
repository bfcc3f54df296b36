package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/svgforge/internal/api/response"
	"github.com/kiranshivaraju/svgforge/internal/queue"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStats reports how many entries the queue holds per state.
type QueueStats interface {
	Counts(ctx context.Context) (queue.Counts, error)
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. It checks
// database and cache connectivity and includes the queue counts when available.
func NewHealthHandler(db, c Pinger, q QueueStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			slog.Warn("health: database ping failed", "error", err)
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			slog.Warn("health: cache ping failed", "error", err)
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		body := map[string]any{
			"status":   "ok",
			"services": checks,
		}
		if counts, err := q.Counts(r.Context()); err == nil {
			body["queue"] = counts
		} else {
			slog.Warn("health: reading queue counts failed", "error", err)
		}
		response.JSON(w, body)
	}
}
