package handlers

import (
	"context"
	"net/http"
	"time"

	"sharewear/internal/httpkit"
)

// Health reports service health. ?deep=true also pings Postgres, Redis,
// and storage, and includes pipeline depth per status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "sharewear-api",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if checkMap, ok := check.(map[string]any); ok {
				if checkMap["status"] != "ok" {
					health["status"] = "degraded"
					log.Warn("health check degraded", "checks", checks)
					break
				}
			}
		}

		counts, err := h.store.CountByStatus(ctx)
		switch {
		case err == nil:
			health["jobs"] = counts
		case httpkit.IsUndefinedTable(err):
			health["status"] = "degraded"
			health["jobs"] = map[string]any{"error": "schema not migrated"}
		}
	}

	httpkit.WriteJSON(w, 200, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]any {
	checks := make(map[string]any)
	checks["postgres"] = h.checkPostgres(ctx)
	checks["redis"] = h.checkRedis(ctx)
	checks["storage"] = map[string]any{"status": "ok", "provider": h.sp.Provider()}
	return checks
}

func (h *Handler) checkPostgres(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.pool.Ping(ctx); err != nil {
		return map[string]any{"status": "error", "error": err.Error()}
	}
	return map[string]any{"status": "ok", "latency_ms": time.Since(start).Milliseconds()}
}

func (h *Handler) checkRedis(ctx context.Context) map[string]any {
	if h.rdb == nil {
		return map[string]any{"status": "ok", "note": "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return map[string]any{"status": "error", "error": err.Error()}
	}
	return map[string]any{"status": "ok", "latency_ms": time.Since(start).Milliseconds()}
}
