package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/service"
	"github.com/alanyoungcy/positionbot/internal/settlement"
)

// PositionService is the read and update surface of the position store.
type PositionService interface {
	Get(ctx context.Context, id string) (domain.Position, error)
	List(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error)
	Update(ctx context.Context, id string, delta domain.PositionDelta) (domain.Position, error)
	History(ctx context.Context, limit int) (service.HistoryPage, error)
	Report(ctx context.Context, opts domain.ListOpts) (settlement.Report, error)
}

type PositionHandler struct {
	positions PositionService
	ledger    domain.LedgerReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. ledger may be nil; it backs
// the ledger-sourced report.
func NewPositionHandler(positions PositionService, ledger domain.LedgerReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, ledger: ledger, logger: logger}
}

func (h *PositionHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if writeServiceError(w, err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Count     int               `json:"count"`
}

// ListPositions lists positions by status (open, closed or all).
// GET /api/positions?status=open&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	var status domain.PositionStatus
	switch s := strings.ToLower(r.URL.Query().Get("status")); s {
	case "", "open":
		status = domain.PositionStatusOpen
	case "closed":
		status = domain.PositionStatusClosed
	case "all":
	default:
		writeServiceError(w, domain.Invalid("status", "must be open, closed or all"))
		return
	}

	positions, err := h.positions.List(r.Context(), status, parseListOpts(r))
	if err != nil {
		h.fail(w, r, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions, Count: len(positions)})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// UpdatePosition applies a partial update to an open position.
// PATCH /api/positions/{id}
func (h *PositionHandler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	var delta domain.PositionDelta
	if err := decodeBody(w, r, &delta); err != nil {
		writeServiceError(w, err)
		return
	}
	pos, err := h.positions.Update(r.Context(), r.PathValue("id"), delta)
	if err != nil {
		h.fail(w, r, "update position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// History returns closed positions, newest close first.
// GET /api/positions/history?limit=20
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	page, err := h.positions.History(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "history", err)
		return
	}
	if page.Positions == nil {
		page.Positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, page)
}

// Report aggregates settled groups. source=ledger rebuilds the groups from
// ledger records instead of the position store.
// GET /api/report?source=store|ledger&since=...&until=...
func (h *PositionHandler) Report(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	opts.Limit, opts.Offset = 0, 0

	if r.URL.Query().Get("source") == "ledger" {
		if h.ledger == nil {
			writeServiceError(w, domain.Invalid("source", "the configured ledger cannot be read back"))
			return
		}
		records, err := h.ledger.ListRecords(r.Context(), opts)
		if err != nil {
			h.fail(w, r, "ledger report", err)
			return
		}
		writeJSON(w, http.StatusOK, settlement.Aggregate(settlement.GroupRecords(records)))
		return
	}

	report, err := h.positions.Report(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
