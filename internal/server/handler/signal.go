package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/service"
)

// SignalService tracks trade events without touching a venue.
type SignalService interface {
	HandleText(ctx context.Context, text string) (service.SignalResult, error)
	Handle(ctx context.Context, intent domain.TradeIntent) (service.SignalResult, error)
}

type SignalHandler struct {
	signals SignalService
	logger  *slog.Logger
}

func NewSignalHandler(signals SignalService, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{signals: signals, logger: logger}
}

// signalRequest is either free text or a structured intent.
type signalRequest struct {
	Text string `json:"text"`
	domain.TradeIntent
}

// Track classifies and applies one trade event.
// POST /api/signals
func (h *SignalHandler) Track(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	var (
		res service.SignalResult
		err error
	)
	if strings.TrimSpace(req.Text) != "" {
		res, err = h.signals.HandleText(r.Context(), req.Text)
	} else {
		res, err = h.signals.Handle(r.Context(), req.TradeIntent)
	}
	if err != nil {
		if writeServiceError(w, err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: track signal failed", slog.String("error", err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
