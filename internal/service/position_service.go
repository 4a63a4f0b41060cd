package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/costbasis"
	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/notify"
	"github.com/alanyoungcy/positionbot/internal/settlement"
)

// PositionsChannel is the bus channel lifecycle events are published on.
const PositionsChannel = "positions"

// OpenParams describes a new position. ID is generated when empty.
type OpenParams struct {
	ID         string
	Symbol     string
	Direction  domain.Direction
	TradeType  domain.TradeType
	Leverage   int
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
	Strategy   string
	Notes      string
	OrderID    string
	OpenTime   time.Time
}

// AddParams describes one ADD leg. ID is generated when empty.
type AddParams struct {
	ID       string
	ParentID string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	OrderID  string
	At       time.Time
}

// CloseParams closes a position.
type CloseParams struct {
	ID        string
	ExitPrice decimal.Decimal
	Reason    domain.CloseReason
	OrderID   string
	At        time.Time
}

// HistoryPage is a page of closed positions, newest close first.
type HistoryPage struct {
	Positions       []domain.Position `json:"positions"`
	Count           int               `json:"count"`
	TotalProfitLoss decimal.Decimal   `json:"total_profit_loss"`
	TotalActualPnL  decimal.Decimal   `json:"total_actual_profit_loss"`
}

// PositionService owns the position lifecycle. Every read-modify-write runs
// under one in-process mutex; when a LockManager is configured the symbol is
// also locked across processes. The service never performs network calls
// other than to its store, bus and audit log while holding the mutex.
type PositionService struct {
	mu        sync.Mutex
	positions domain.PositionStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	locks     domain.LockManager
	lockTTL   time.Duration
	notifier  *notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// PositionOption configures optional collaborators.
type PositionOption func(*PositionService)

func WithAudit(a domain.AuditStore) PositionOption {
	return func(s *PositionService) { s.audit = a }
}

func WithBus(b domain.SignalBus) PositionOption {
	return func(s *PositionService) { s.bus = b }
}

func WithNotifier(n *notify.Notifier) PositionOption {
	return func(s *PositionService) { s.notifier = n }
}

// WithSymbolLocks serializes mutations per symbol across processes.
func WithSymbolLocks(l domain.LockManager, ttl time.Duration) PositionOption {
	return func(s *PositionService) {
		s.locks = l
		s.lockTTL = ttl
	}
}

// NewPositionService creates a PositionService over store.
func NewPositionService(store domain.PositionStore, logger *slog.Logger, opts ...PositionOption) *PositionService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PositionService{
		positions: store,
		lockTTL:   30 * time.Second,
		logger:    logger.With(slog.String("component", "position_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lock takes the symbol lock (if any) and then the process mutex.
func (s *PositionService) lock(ctx context.Context, symbol string) (func(), error) {
	release := func() {}
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "position:"+domain.NormalizeSymbol(symbol), s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("position_service: lock %s: %w", symbol, err)
		}
		release = unlock
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		release()
	}, nil
}

func positive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return domain.Invalid(field, "must be positive")
	}
	return nil
}

// Create opens a position. A duplicate ID yields ErrAlreadyExists and a
// second open position on the same symbol yields ErrPositionOpen.
func (s *PositionService) Create(ctx context.Context, p OpenParams) (domain.Position, error) {
	symbol := domain.NormalizeSymbol(p.Symbol)
	switch {
	case symbol == "":
		return domain.Position{}, fmt.Errorf("position_service: create: %w", domain.Invalid("symbol", "required"))
	case !p.Direction.Valid():
		return domain.Position{}, fmt.Errorf("position_service: create: %w", domain.Invalid("direction", "must be LONG or SHORT"))
	}
	if err := positive("entry_price", p.EntryPrice); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create: %w", err)
	}
	if err := positive("quantity", p.Quantity); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create: %w", err)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Leverage < 1 {
		p.Leverage = 1
	}
	if p.TradeType == "" {
		p.TradeType = domain.TradeTypeSpot
		if p.Leverage > 1 {
			p.TradeType = domain.TradeTypeMargined
		}
	}
	if p.OpenTime.IsZero() {
		p.OpenTime = s.now()
	}

	pos := domain.Position{
		ID:         p.ID,
		Symbol:     symbol,
		Direction:  p.Direction,
		TradeType:  p.TradeType,
		Leverage:   p.Leverage,
		TakeProfit: p.TakeProfit,
		StopLoss:   p.StopLoss,
		Status:     domain.PositionStatusOpen,
		OpenTime:   p.OpenTime,
		Strategy:   p.Strategy,
		Notes:      p.Notes,
		UpdatedAt:  s.now(),
		Legs: []domain.PositionLeg{{
			ID:        p.ID,
			Operation: domain.OperationOpen,
			Price:     domain.Dec(p.EntryPrice),
			Quantity:  domain.Dec(p.Quantity),
			OrderID:   p.OrderID,
			At:        p.OpenTime,
		}},
	}
	if p.OrderID != "" {
		pos.VenueOrderIDs = []string{p.OrderID}
	}
	pos, err := costbasis.Apply(pos)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create: %w", err)
	}

	unlock, err := s.lock(ctx, symbol)
	if err != nil {
		return domain.Position{}, err
	}
	if existing, err := s.positions.FindBySymbol(ctx, symbol, domain.PositionStatusOpen); err == nil {
		unlock()
		return domain.Position{}, fmt.Errorf("position_service: create %s: position %s: %w", symbol, existing.ID, domain.ErrPositionOpen)
	} else if !errors.Is(err, domain.ErrNotFound) {
		unlock()
		return domain.Position{}, fmt.Errorf("position_service: create %s: %w", symbol, err)
	}
	err = s.positions.Create(ctx, pos)
	unlock()
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create %s: %w", pos.ID, err)
	}

	s.afterMutation(ctx, notify.EventPositionOpened, pos, map[string]any{
		"entry_price": pos.EntryPrice.String(),
		"quantity":    pos.Quantity.String(),
		"direction":   string(pos.Direction),
		"leverage":    pos.Leverage,
	}, notify.PositionOpened(pos))

	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("quantity", pos.Quantity.String()),
	)
	return pos, nil
}

// mutate runs fn on a fresh copy of position id under the locks and saves
// the result. fn must not perform network I/O.
func (s *PositionService) mutate(ctx context.Context, op, id string, fn func(*domain.Position) error) (domain.Position, error) {
	current, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: %s %s: %w", op, id, err)
	}
	unlock, err := s.lock(ctx, current.Symbol)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	// Re-read under the lock; the copy above only named the symbol.
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: %s %s: %w", op, id, err)
	}
	if !pos.IsOpen() {
		return domain.Position{}, fmt.Errorf("position_service: %s %s: %w", op, id, domain.ErrPositionClosed)
	}
	pos = pos.Clone()
	if err := fn(&pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: %s %s: %w", op, id, err)
	}
	pos.UpdatedAt = s.now()
	if err := s.positions.Save(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: %s %s: %w", op, id, err)
	}
	return pos, nil
}

// AddLeg appends an ADD leg to the parent position and recomputes its cost
// basis in the same save.
func (s *PositionService) AddLeg(ctx context.Context, p AddParams) (domain.Position, domain.PositionLeg, error) {
	if p.ParentID == "" {
		return domain.Position{}, domain.PositionLeg{}, fmt.Errorf("position_service: add: %w", domain.Invalid("parent_order_id", "required"))
	}
	if err := positive("entry_price", p.Price); err != nil {
		return domain.Position{}, domain.PositionLeg{}, fmt.Errorf("position_service: add: %w", err)
	}
	if err := positive("quantity", p.Quantity); err != nil {
		return domain.Position{}, domain.PositionLeg{}, fmt.Errorf("position_service: add: %w", err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.At.IsZero() {
		p.At = s.now()
	}
	leg := domain.PositionLeg{
		ID:        p.ID,
		ParentID:  p.ParentID,
		Operation: domain.OperationAdd,
		Price:     domain.Dec(p.Price),
		Quantity:  domain.Dec(p.Quantity),
		OrderID:   p.OrderID,
		At:        p.At,
	}

	pos, err := s.mutate(ctx, "add", p.ParentID, func(pos *domain.Position) error {
		for _, l := range pos.Legs {
			if l.ID == leg.ID {
				return fmt.Errorf("leg %s: %w", leg.ID, domain.ErrAlreadyExists)
			}
		}
		pos.Legs = append(pos.Legs, leg)
		if leg.OrderID != "" {
			pos.VenueOrderIDs = append(pos.VenueOrderIDs, leg.OrderID)
		}
		updated, err := costbasis.Apply(*pos)
		if err != nil {
			return err
		}
		*pos = updated
		return nil
	})
	if err != nil {
		return domain.Position{}, domain.PositionLeg{}, err
	}

	s.afterMutation(ctx, notify.EventPositionAdded, pos, map[string]any{
		"leg_id":      leg.ID,
		"price":       p.Price.String(),
		"quantity":    p.Quantity.String(),
		"entry_price": pos.EntryPrice.String(),
	}, notify.PositionAdded(pos))

	s.logger.InfoContext(ctx, "position_service: leg added",
		slog.String("position_id", pos.ID),
		slog.String("leg_id", leg.ID),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("quantity", pos.Quantity.String()),
	)
	return pos, leg, nil
}

// Update merges delta into an open position. Entry price and quantity
// overwrite the OPEN leg with venue-confirmed actuals before the basis is
// recomputed.
func (s *PositionService) Update(ctx context.Context, id string, delta domain.PositionDelta) (domain.Position, error) {
	if delta.Empty() {
		return domain.Position{}, fmt.Errorf("position_service: update %s: %w", id, domain.Invalid("", "empty update"))
	}
	for _, f := range []struct {
		name string
		v    *decimal.Decimal
	}{
		{"entry_price", delta.EntryPrice},
		{"quantity", delta.Quantity},
		{"take_profit_price", delta.TakeProfit},
		{"stop_loss_price", delta.StopLoss},
	} {
		if f.v != nil {
			if err := positive(f.name, *f.v); err != nil {
				return domain.Position{}, fmt.Errorf("position_service: update %s: %w", id, err)
			}
		}
	}

	pos, err := s.mutate(ctx, "update", id, func(pos *domain.Position) error {
		if delta.TakeProfit != nil {
			pos.TakeProfit = domain.Dec(*delta.TakeProfit)
		}
		if delta.StopLoss != nil {
			pos.StopLoss = domain.Dec(*delta.StopLoss)
		}
		if delta.Strategy != nil {
			pos.Strategy = *delta.Strategy
		}
		if delta.Notes != nil {
			pos.Notes = *delta.Notes
		}
		if delta.EntryPrice != nil || delta.Quantity != nil || delta.OrderID != nil {
			for i := range pos.Legs {
				leg := &pos.Legs[i]
				if leg.Operation != domain.OperationOpen || leg.ID != pos.ID {
					continue
				}
				if delta.EntryPrice != nil {
					leg.Price = domain.Dec(*delta.EntryPrice)
				}
				if delta.Quantity != nil {
					leg.Quantity = domain.Dec(*delta.Quantity)
				}
				if delta.OrderID != nil && leg.OrderID == "" {
					leg.OrderID = *delta.OrderID
				}
			}
		}
		if delta.OrderID != nil && *delta.OrderID != "" && !contains(pos.VenueOrderIDs, *delta.OrderID) {
			pos.VenueOrderIDs = append(pos.VenueOrderIDs, *delta.OrderID)
		}
		if delta.EntryPrice != nil || delta.Quantity != nil {
			updated, err := costbasis.Apply(*pos)
			if err != nil {
				return err
			}
			*pos = updated
		}
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	s.auditLog(ctx, "position_updated", map[string]any{"position_id": pos.ID, "symbol": pos.Symbol})
	return pos, nil
}

// Close settles an open position at the exit price and marks it CLOSED.
// The transition happens once; a second close yields ErrPositionClosed and
// leaves the recorded PnL untouched.
func (s *PositionService) Close(ctx context.Context, p CloseParams) (domain.Position, domain.Settlement, error) {
	if err := positive("exit_price", p.ExitPrice); err != nil {
		return domain.Position{}, domain.Settlement{}, fmt.Errorf("position_service: close %s: %w", p.ID, err)
	}
	if p.Reason == "" {
		p.Reason = domain.CloseReasonManual
	}
	if p.At.IsZero() {
		p.At = s.now()
	}

	var settled domain.Settlement
	pos, err := s.mutate(ctx, "close", p.ID, func(pos *domain.Position) error {
		res, err := settlement.ForPosition(*pos, p.ExitPrice)
		if err != nil {
			return err
		}
		*pos = settlement.ApplyClose(*pos, res)
		closedAt := p.At
		pos.Status = domain.PositionStatusClosed
		pos.CloseTime = &closedAt
		pos.CloseReason = p.Reason
		pos.Closing = nil
		if p.OrderID != "" && !contains(pos.VenueOrderIDs, p.OrderID) {
			pos.VenueOrderIDs = append(pos.VenueOrderIDs, p.OrderID)
		}
		settled = res
		return nil
	})
	if err != nil {
		return domain.Position{}, domain.Settlement{}, err
	}

	s.afterMutation(ctx, notify.EventPositionClosed, pos, map[string]any{
		"exit_price":         p.ExitPrice.String(),
		"profit_loss":        settled.ProfitLoss.String(),
		"actual_profit_loss": settled.ActualProfitLoss.String(),
		"close_reason":       string(p.Reason),
	}, notify.PositionClosed(pos))

	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("exit_price", p.ExitPrice.String()),
		slog.String("actual_profit_loss", settled.ActualProfitLoss.String()),
		slog.String("reason", string(p.Reason)),
	)
	return pos, settled, nil
}

// BeginClose records that a closing order is about to be sent for id. Only
// one closing order may be outstanding per position; a second call yields
// ErrCloseInProgress together with the position carrying the first marker.
func (s *PositionService) BeginClose(ctx context.Context, id, clientOrderID string) (domain.Position, error) {
	var existing *domain.ClosingOrder
	pos, err := s.mutate(ctx, "begin close", id, func(pos *domain.Position) error {
		if pos.Closing != nil {
			c := *pos.Closing
			existing = &c
			return domain.ErrCloseInProgress
		}
		pos.Closing = &domain.ClosingOrder{ClientOrderID: clientOrderID, RequestedAt: s.now()}
		return nil
	})
	if existing != nil {
		current, gerr := s.positions.GetByID(ctx, id)
		if gerr != nil {
			return domain.Position{}, err
		}
		return current, err
	}
	if err != nil {
		return domain.Position{}, err
	}
	s.auditLog(ctx, "position_closing", map[string]any{
		"position_id":     pos.ID,
		"symbol":          pos.Symbol,
		"client_order_id": clientOrderID,
	})
	return pos, nil
}

// RecordCloseFill stores the venue fill of the outstanding closing order so
// settlement can complete later without another venue call.
func (s *PositionService) RecordCloseFill(ctx context.Context, id, venueOrderID string, exitPrice decimal.Decimal) (domain.Position, error) {
	if err := positive("exit_price", exitPrice); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: record close fill %s: %w", id, err)
	}
	return s.mutate(ctx, "record close fill", id, func(pos *domain.Position) error {
		if pos.Closing == nil {
			pos.Closing = &domain.ClosingOrder{RequestedAt: s.now()}
		}
		pos.Closing.VenueOrderID = venueOrderID
		pos.Closing.ExitPrice = domain.Dec(exitPrice)
		return nil
	})
}

// AbortClose drops the closing marker after the venue rejected the order.
func (s *PositionService) AbortClose(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, "abort close", id, func(pos *domain.Position) error {
		pos.Closing = nil
		return nil
	})
	return err
}

// Get returns one position.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %s: %w", id, err)
	}
	return pos, nil
}

// FindOpenBySymbol returns the open position for symbol or ErrNotFound.
func (s *PositionService) FindOpenBySymbol(ctx context.Context, symbol string) (domain.Position, error) {
	pos, err := s.positions.FindBySymbol(ctx, symbol, domain.PositionStatusOpen)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: no open position for %s: %w", domain.NormalizeSymbol(symbol), err)
	}
	return pos, nil
}

// List returns positions with the given status (all when empty).
func (s *PositionService) List(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	out, err := s.positions.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list %s: %w", status, err)
	}
	return out, nil
}

// ListOpen returns every open position.
func (s *PositionService) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.List(ctx, domain.PositionStatusOpen, domain.ListOpts{})
}

// History returns closed positions, most recently closed first, with the
// summed realized PnL of the page.
func (s *PositionService) History(ctx context.Context, limit int) (HistoryPage, error) {
	closed, err := s.List(ctx, domain.PositionStatusClosed, domain.ListOpts{})
	if err != nil {
		return HistoryPage{}, err
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closeTime(closed[i]).After(closeTime(closed[j]))
	})
	if limit > 0 && len(closed) > limit {
		closed = closed[:limit]
	}

	page := HistoryPage{Positions: closed, Count: len(closed), TotalProfitLoss: decimal.Zero, TotalActualPnL: decimal.Zero}
	for _, p := range closed {
		if p.ProfitLoss != nil {
			page.TotalProfitLoss = page.TotalProfitLoss.Add(*p.ProfitLoss)
		}
		if p.ActualProfitLoss != nil {
			page.TotalActualPnL = page.TotalActualPnL.Add(*p.ActualProfitLoss)
		}
	}
	return page, nil
}

// Report aggregates every closed position into a reconciliation report.
func (s *PositionService) Report(ctx context.Context, opts domain.ListOpts) (settlement.Report, error) {
	closed, err := s.List(ctx, domain.PositionStatusClosed, opts)
	if err != nil {
		return settlement.Report{}, err
	}
	return settlement.Aggregate(settlement.FromPositions(closed)), nil
}

func closeTime(p domain.Position) time.Time {
	if p.CloseTime == nil {
		return time.Time{}
	}
	return *p.CloseTime
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// afterMutation fans a committed change out to the bus, the audit log and
// the notifier. Failures are logged and never undo the change.
func (s *PositionService) afterMutation(ctx context.Context, event string, pos domain.Position, detail map[string]any, msg notify.Message) {
	detail["position_id"] = pos.ID
	detail["symbol"] = pos.Symbol

	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{"event": event, "position": pos})
		if err := s.bus.Publish(ctx, PositionsChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "position_service: publish event failed",
				slog.String("event", event),
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditLog(ctx, event, detail)
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "position_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
