package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Checker is one dependency health probe.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves liveness and runtime status.
type HealthHandler struct {
	checks    []Checker
	mode      string
	venue     string
	ledger    string
	startedAt time.Time
	logger    *slog.Logger
}

func NewHealthHandler(mode, venue, ledgerTier string, checks []Checker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		mode:      mode,
		venue:     venue,
		ledger:    ledgerTier,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck runs every dependency probe. Any failure yields 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			deps[c.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("dependency", c.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		deps[c.Name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus reports the runtime configuration.
// GET /api/status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"venue":          h.venue,
		"ledger_tier":    h.ledger,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
