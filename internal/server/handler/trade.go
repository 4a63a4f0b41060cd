package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/positionbot/internal/orchestrator"
)

// Orchestrator runs the venue-backed open and close flows.
type Orchestrator interface {
	OpenAndTrack(ctx context.Context, req orchestrator.OpenRequest) (orchestrator.Outcome, error)
	CloseAndSettle(ctx context.Context, req orchestrator.CloseRequest) (orchestrator.Outcome, error)
}

type TradeHandler struct {
	orch   Orchestrator
	logger *slog.Logger
}

func NewTradeHandler(orch Orchestrator, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{orch: orch, logger: logger}
}

// outcomeError pairs an error with the legs that did run.
type outcomeError struct {
	Error   string               `json:"error"`
	Outcome orchestrator.Outcome `json:"outcome"`
}

func (h *TradeHandler) respond(w http.ResponseWriter, r *http.Request, created int, out orchestrator.Outcome, err error) {
	if err == nil {
		writeJSON(w, created, out)
		return
	}
	status := statusFor(err)
	if status == http.StatusMultiStatus {
		h.logger.ErrorContext(r.Context(), "handler: split outcome",
			slog.String("symbol", out.Symbol),
			slog.String("venue_order_id", out.VenueLeg.OrderID),
			slog.String("error", err.Error()),
		)
	}
	// Once the venue was reached the caller needs the leg detail.
	if out.VenueLeg.Status != "" && out.VenueLeg.Status != orchestrator.LegSkipped {
		writeJSON(w, status, outcomeError{Error: err.Error(), Outcome: out})
		return
	}
	writeServiceError(w, err)
}

// Open places an opening order and tracks the fill.
// POST /api/trades/open
func (h *TradeHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.OpenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	out, err := h.orch.OpenAndTrack(r.Context(), req)
	h.respond(w, r, http.StatusCreated, out, err)
}

// Close closes the open position on a symbol and settles it.
// POST /api/trades/close
func (h *TradeHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CloseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	out, err := h.orch.CloseAndSettle(r.Context(), req)
	h.respond(w, r, http.StatusOK, out, err)
}
