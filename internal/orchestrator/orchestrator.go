// Package orchestrator places venue orders and folds the fills into the
// position store. Each composite call runs a venue leg and then a ledger
// leg, in that order, and never rolls either back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/notify"
	"github.com/alanyoungcy/positionbot/internal/service"
)

// Positions is the slice of the position service the orchestrator drives.
type Positions interface {
	Create(ctx context.Context, p service.OpenParams) (domain.Position, error)
	Close(ctx context.Context, p service.CloseParams) (domain.Position, domain.Settlement, error)
	FindOpenBySymbol(ctx context.Context, symbol string) (domain.Position, error)
	BeginClose(ctx context.Context, id, clientOrderID string) (domain.Position, error)
	RecordCloseFill(ctx context.Context, id, venueOrderID string, exitPrice decimal.Decimal) (domain.Position, error)
	AbortClose(ctx context.Context, id string) error
}

// Config tunes the orchestrator.
type Config struct {
	VenueTimeout      time.Duration
	NotionalThreshold decimal.Decimal
	DedupTTL          time.Duration
}

// LegStatus is the result of one leg.
type LegStatus string

const (
	LegOK      LegStatus = "ok"
	LegFailed  LegStatus = "failed"
	LegSkipped LegStatus = "skipped"
)

// LegResult reports one leg of a composite call.
type LegResult struct {
	Status  LegStatus `json:"status"`
	OrderID string    `json:"order_id,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Outcome is the structured result of a composite call. Venue and ledger
// legs are reported independently; Position and Settlement are set only
// when both legs succeeded.
type Outcome struct {
	Operation  domain.Operation   `json:"operation"`
	Symbol     string             `json:"symbol"`
	PositionID string             `json:"position_id,omitempty"`
	VenueLeg   LegResult          `json:"venue_leg"`
	LedgerLeg  LegResult          `json:"ledger_leg"`
	Fill       *domain.Fill       `json:"fill,omitempty"`
	Position   *domain.Position   `json:"position,omitempty"`
	Settlement *domain.Settlement `json:"settlement,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// Split reports whether the venue acted but the ledger did not follow.
func (o Outcome) Split() bool {
	return o.VenueLeg.Status == LegOK && o.LedgerLeg.Status == LegFailed
}

// OK reports whether both legs succeeded.
func (o Outcome) OK() bool {
	return o.VenueLeg.Status == LegOK && o.LedgerLeg.Status == LegOK
}

// OpenRequest opens a position through the venue. Size comes from Quantity
// (base) or QuoteQuantity (notional); a bare Amount is resolved by the
// notional threshold. LimitPrice turns the order into a LIMIT order.
type OpenRequest struct {
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Symbol         string           `json:"symbol"`
	Direction      domain.Direction `json:"direction"`
	TradeType      domain.TradeType `json:"trade_type,omitempty"`
	Leverage       int              `json:"leverage,omitempty"`
	Quantity       *decimal.Decimal `json:"quantity,omitempty"`
	QuoteQuantity  *decimal.Decimal `json:"quote_quantity,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	TakeProfit     *decimal.Decimal `json:"take_profit_price,omitempty"`
	StopLoss       *decimal.Decimal `json:"stop_loss_price,omitempty"`
	Strategy       string           `json:"strategy,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

// CloseRequest closes the open position on Symbol. ClosePrice turns the
// closing order into a LIMIT order.
type CloseRequest struct {
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	Symbol         string             `json:"symbol"`
	ClosePrice     *decimal.Decimal   `json:"close_price,omitempty"`
	Reason         domain.CloseReason `json:"reason,omitempty"`
}

// Orchestrator runs open_and_track and close_and_settle.
type Orchestrator struct {
	venue     domain.Venue
	positions Positions
	journal   *service.Journal
	prices    domain.PriceCache
	notifier  *notify.Notifier
	dedup     *Dedup
	cfg       Config
	logger    *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

func WithJournal(j *service.Journal) Option { return func(o *Orchestrator) { o.journal = j } }

// WithPriceCache supplies reference prices for sizing futures orders given
// as a quote notional. Executed prices are written back to it.
func WithPriceCache(p domain.PriceCache) Option { return func(o *Orchestrator) { o.prices = p } }

func WithNotifier(n *notify.Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

// New creates an Orchestrator.
func New(venue domain.Venue, positions Positions, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 15 * time.Second
	}
	if !cfg.NotionalThreshold.IsPositive() {
		cfg.NotionalThreshold = domain.DefaultNotionalThreshold
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	o := &Orchestrator{
		venue:     venue,
		positions: positions,
		cfg:       cfg,
		dedup:     NewDedup(cfg.DedupTTL),
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dedup exposes the idempotency cache for periodic cleanup.
func (o *Orchestrator) Dedup() *Dedup { return o.dedup }

func (o *Orchestrator) notify(ctx context.Context, msg notify.Message) {
	if err := o.notifier.Notify(ctx, msg); err != nil {
		o.logger.WarnContext(ctx, "orchestrator: notify failed",
			slog.String("event", msg.Event),
			slog.String("error", err.Error()),
		)
	}
}

// placeOrder calls the venue under its own timeout. No store lock is held
// here.
func (o *Orchestrator) placeOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.VenueTimeout)
	defer cancel()
	return o.venue.PlaceOrder(ctx, req)
}

// claim applies the idempotency key. A replay returns the stored outcome.
func (o *Orchestrator) claim(key string) (Outcome, error) {
	if key == "" {
		return Outcome{}, nil
	}
	prev, finished, ok := o.dedup.Claim(key)
	if ok {
		return Outcome{}, nil
	}
	if finished {
		return prev, fmt.Errorf("orchestrator: key %s already executed: %w", key, domain.ErrDuplicateRequest)
	}
	return Outcome{}, fmt.Errorf("orchestrator: key %s in flight: %w", key, domain.ErrDuplicateRequest)
}

func (o *Orchestrator) complete(key string, out Outcome) {
	if key != "" {
		o.dedup.Complete(key, out)
	}
}

func (o *Orchestrator) release(key string) {
	if key != "" {
		o.dedup.Release(key)
	}
}

// resolveSize turns the request into a venue size.
func (o *Orchestrator) resolveSize(ctx context.Context, req OpenRequest, tradeType domain.TradeType) (base, quote *decimal.Decimal, err error) {
	switch {
	case req.Quantity != nil:
		base = req.Quantity
	case req.QuoteQuantity != nil:
		quote = req.QuoteQuantity
	default:
		base, quote = domain.TradeIntent{Amount: req.Amount}.Size(o.cfg.NotionalThreshold)
	}
	if base == nil && quote == nil {
		return nil, nil, domain.Invalid("quantity", "quantity, quote quantity or amount required")
	}
	for _, v := range []*decimal.Decimal{base, quote} {
		if v != nil && !v.IsPositive() {
			return nil, nil, domain.Invalid("quantity", "must be positive")
		}
	}

	// Linear futures take a base quantity; size a notional off a reference
	// price when one is known.
	if quote != nil && tradeType == domain.TradeTypeMargined {
		ref := req.LimitPrice
		if ref == nil && o.prices != nil {
			if p, _, perr := o.prices.GetPrice(ctx, req.Symbol); perr == nil && p.IsPositive() {
				ref = &p
			}
		}
		if ref != nil {
			q := quote.DivRound(*ref, 8)
			return &q, nil, nil
		}
	}
	return base, quote, nil
}

// fillPrice derives the execution price: the venue average, then the
// requested limit price, then cumulative quote over executed quantity.
func fillPrice(f domain.Fill, limit *decimal.Decimal) (decimal.Decimal, bool) {
	switch {
	case f.AvgPrice.IsPositive():
		return f.AvgPrice, true
	case limit != nil && limit.IsPositive():
		return *limit, true
	case f.CumulativeQuote.IsPositive() && f.ExecutedQty.IsPositive():
		return f.CumulativeQuote.Div(f.ExecutedQty), true
	}
	return decimal.Zero, false
}

// fillQuantity derives the executed quantity: the venue figure, then the
// requested base quantity, then the notional over the price.
func fillQuantity(f domain.Fill, base, quote *decimal.Decimal, price decimal.Decimal) (decimal.Decimal, bool) {
	switch {
	case f.ExecutedQty.IsPositive():
		return f.ExecutedQty, true
	case base != nil:
		return *base, true
	case quote != nil && price.IsPositive():
		return quote.Div(price), true
	}
	return decimal.Zero, false
}

// OpenAndTrack places the opening order and, once the venue accepts it,
// creates the tracked position. A venue failure creates nothing. A
// tracking failure after a fill is a split outcome; the venue is never
// called again for the same request.
func (o *Orchestrator) OpenAndTrack(ctx context.Context, req OpenRequest) (Outcome, error) {
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	out := Outcome{
		Operation: domain.OperationOpen,
		Symbol:    req.Symbol,
		VenueLeg:  LegResult{Status: LegSkipped},
		LedgerLeg: LegResult{Status: LegSkipped},
	}

	if req.Symbol == "" {
		return out, fmt.Errorf("orchestrator: open: %w", domain.Invalid("symbol", "required"))
	}
	if !req.Direction.Valid() {
		return out, fmt.Errorf("orchestrator: open: %w", domain.Invalid("direction", "must be LONG or SHORT"))
	}
	if req.LimitPrice != nil && !req.LimitPrice.IsPositive() {
		return out, fmt.Errorf("orchestrator: open: %w", domain.Invalid("limit_price", "must be positive"))
	}
	if req.Leverage < 1 {
		req.Leverage = 1
	}
	if req.TradeType == "" {
		req.TradeType = domain.TradeTypeSpot
		if req.Leverage > 1 {
			req.TradeType = domain.TradeTypeMargined
		}
	}
	base, quote, err := o.resolveSize(ctx, req, req.TradeType)
	if err != nil {
		return out, fmt.Errorf("orchestrator: open %s: %w", req.Symbol, err)
	}

	if prev, err := o.claim(req.IdempotencyKey); err != nil {
		return prev, err
	}

	// One open position per symbol. The in-flight marker keeps a concurrent
	// open on the same symbol from reaching the venue before this one is
	// tracked; it is held until Create has returned.
	inflight := "inflight:open:" + req.Symbol
	if _, _, ok := o.dedup.Claim(inflight); !ok {
		o.release(req.IdempotencyKey)
		return out, fmt.Errorf("orchestrator: open %s: open already in flight: %w", req.Symbol, domain.ErrPositionOpen)
	}
	defer o.dedup.Release(inflight)

	if existing, err := o.positions.FindOpenBySymbol(ctx, req.Symbol); err == nil {
		o.release(req.IdempotencyKey)
		return out, fmt.Errorf("orchestrator: open %s: position %s: %w", req.Symbol, existing.ID, domain.ErrPositionOpen)
	} else if !errors.Is(err, domain.ErrNotFound) {
		o.release(req.IdempotencyKey)
		return out, fmt.Errorf("orchestrator: open %s: %w", req.Symbol, err)
	}

	positionID := uuid.NewString()
	order := domain.OrderRequest{
		ClientOrderID: clientOrderID(positionID),
		Symbol:        req.Symbol,
		Side:          req.Direction.OpenSide(),
		Kind:          domain.OrderKindMarket,
		Quantity:      base,
		QuoteQuantity: quote,
		Leverage:      req.Leverage,
		TradeType:     req.TradeType,
	}
	if req.LimitPrice != nil {
		order.Kind = domain.OrderKindLimit
		order.Price = req.LimitPrice
	}

	fill, err := o.placeOrder(ctx, order)
	if err != nil {
		o.release(req.IdempotencyKey)
		out.VenueLeg = LegResult{Status: LegFailed, Error: err.Error()}
		o.logger.WarnContext(ctx, "orchestrator: open order failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		o.notify(ctx, notify.VenueFailed(req.Symbol, domain.OperationOpen, err))
		return out, fmt.Errorf("orchestrator: open %s: %w", req.Symbol, &domain.LegError{Leg: domain.LegVenue, Err: err})
	}
	out.VenueLeg = LegResult{Status: LegOK, OrderID: fill.OrderID}
	out.Fill = &fill
	o.rememberPrice(ctx, req.Symbol, fill)

	pos, err := o.trackOpen(ctx, req, positionID, fill, base, quote)
	if err != nil {
		splitErr := &domain.SplitOutcomeError{VenueOrderID: fill.OrderID, PositionID: positionID, Symbol: req.Symbol, Err: err}
		out.PositionID = positionID
		out.LedgerLeg = LegResult{Status: LegFailed, Error: err.Error()}
		o.complete(req.IdempotencyKey, out)
		o.logger.ErrorContext(ctx, "orchestrator: open split outcome",
			slog.String("symbol", req.Symbol),
			slog.String("venue_order_id", fill.OrderID),
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		o.notify(ctx, notify.SplitOutcome(splitErr))
		return out, fmt.Errorf("orchestrator: open %s: %w", req.Symbol, splitErr)
	}

	out.PositionID = pos.ID
	out.LedgerLeg = LegResult{Status: LegOK}
	out.Position = &pos

	if err := o.journal.Opened(ctx, pos, domain.StatusSignalReceived); err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	} else if err := o.journal.Confirm(ctx, pos.ID, fill.OrderID, domain.Dec(pos.EntryPrice), domain.Dec(pos.Quantity)); err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	}
	o.complete(req.IdempotencyKey, out)

	o.logger.InfoContext(ctx, "orchestrator: position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("venue_order_id", fill.OrderID),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("quantity", pos.Quantity.String()),
	)
	return out, nil
}

func (o *Orchestrator) trackOpen(ctx context.Context, req OpenRequest, positionID string, fill domain.Fill, base, quote *decimal.Decimal) (domain.Position, error) {
	price, ok := fillPrice(fill, req.LimitPrice)
	if !ok {
		return domain.Position{}, fmt.Errorf("venue order %s reported no price: %w", fill.OrderID, domain.ErrInsufficientData)
	}
	qty, ok := fillQuantity(fill, base, quote, price)
	if !ok {
		return domain.Position{}, fmt.Errorf("venue order %s reported no quantity: %w", fill.OrderID, domain.ErrInsufficientData)
	}
	return o.positions.Create(ctx, service.OpenParams{
		ID:         positionID,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		TradeType:  req.TradeType,
		Leverage:   req.Leverage,
		EntryPrice: price,
		Quantity:   qty,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
		Strategy:   req.Strategy,
		Notes:      req.Notes,
		OrderID:    fill.OrderID,
	})
}

// CloseAndSettle closes the open position on req.Symbol with an opposing
// order and settles it. Without an open position it fails with
// ErrNotFound before any venue call.
func (o *Orchestrator) CloseAndSettle(ctx context.Context, req CloseRequest) (Outcome, error) {
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	out := Outcome{
		Operation: domain.OperationExit,
		Symbol:    req.Symbol,
		VenueLeg:  LegResult{Status: LegSkipped},
		LedgerLeg: LegResult{Status: LegSkipped},
	}
	if req.Symbol == "" {
		return out, fmt.Errorf("orchestrator: close: %w", domain.Invalid("symbol", "required"))
	}
	if req.ClosePrice != nil && !req.ClosePrice.IsPositive() {
		return out, fmt.Errorf("orchestrator: close: %w", domain.Invalid("close_price", "must be positive"))
	}
	if req.Reason == "" {
		req.Reason = domain.CloseReasonManual
	}

	pos, err := o.positions.FindOpenBySymbol(ctx, req.Symbol)
	if err != nil {
		return out, fmt.Errorf("orchestrator: close %s: %w", req.Symbol, err)
	}
	out.PositionID = pos.ID

	key := req.IdempotencyKey
	if key == "" {
		key = "close:" + pos.ID
	}
	if prev, err := o.claim(key); err != nil {
		return prev, err
	}

	// The closing marker lives on the position itself, so a retry after the
	// idempotency key expired still cannot send a second closing order.
	clientID := clientOrderID(uuid.NewString())
	marked, err := o.positions.BeginClose(ctx, pos.ID, clientID)
	if errors.Is(err, domain.ErrCloseInProgress) && marked.Closing != nil && marked.Closing.Filled() {
		return o.settleRecorded(ctx, key, marked, req, out)
	}
	if err != nil {
		o.release(key)
		if errors.Is(err, domain.ErrCloseInProgress) {
			o.logger.WarnContext(ctx, "orchestrator: closing order outstanding, refusing to trade again",
				slog.String("symbol", pos.Symbol),
				slog.String("position_id", pos.ID),
			)
		}
		return out, fmt.Errorf("orchestrator: close %s: %w", pos.Symbol, err)
	}

	order := domain.OrderRequest{
		ClientOrderID: clientID,
		Symbol:        pos.Symbol,
		Side:          pos.Direction.CloseSide(),
		Kind:          domain.OrderKindMarket,
		Quantity:      domain.Dec(pos.Quantity),
		Leverage:      pos.Leverage,
		TradeType:     pos.TradeType,
		ReduceOnly:    pos.TradeType == domain.TradeTypeMargined,
	}
	if req.ClosePrice != nil {
		order.Kind = domain.OrderKindLimit
		order.Price = req.ClosePrice
	}

	fill, err := o.placeOrder(ctx, order)
	if err != nil {
		o.release(key)
		if aerr := o.positions.AbortClose(ctx, pos.ID); aerr != nil {
			o.logger.WarnContext(ctx, "orchestrator: clear closing marker failed",
				slog.String("position_id", pos.ID),
				slog.String("error", aerr.Error()),
			)
		}
		out.VenueLeg = LegResult{Status: LegFailed, Error: err.Error()}
		o.logger.WarnContext(ctx, "orchestrator: close order failed",
			slog.String("symbol", pos.Symbol),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		o.notify(ctx, notify.VenueFailed(pos.Symbol, domain.OperationExit, err))
		return out, fmt.Errorf("orchestrator: close %s: %w", pos.Symbol, &domain.LegError{Leg: domain.LegVenue, Err: err})
	}
	out.VenueLeg = LegResult{Status: LegOK, OrderID: fill.OrderID}
	out.Fill = &fill
	o.rememberPrice(ctx, pos.Symbol, fill)

	if exit, ok := fillPrice(fill, req.ClosePrice); ok {
		if _, rerr := o.positions.RecordCloseFill(ctx, pos.ID, fill.OrderID, exit); rerr != nil {
			o.logger.WarnContext(ctx, "orchestrator: record close fill failed",
				slog.String("position_id", pos.ID),
				slog.String("venue_order_id", fill.OrderID),
				slog.String("error", rerr.Error()),
			)
		}
	}

	closed, settled, err := o.settle(ctx, pos, req, fill)
	if err != nil {
		splitErr := &domain.SplitOutcomeError{VenueOrderID: fill.OrderID, PositionID: pos.ID, Symbol: pos.Symbol, Err: err}
		out.LedgerLeg = LegResult{Status: LegFailed, Error: err.Error()}
		o.complete(key, out)
		o.logger.ErrorContext(ctx, "orchestrator: close split outcome",
			slog.String("symbol", pos.Symbol),
			slog.String("venue_order_id", fill.OrderID),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		o.notify(ctx, notify.SplitOutcome(splitErr))
		return out, fmt.Errorf("orchestrator: close %s: %w", pos.Symbol, splitErr)
	}

	out.LedgerLeg = LegResult{Status: LegOK}
	out.Position = &closed
	out.Settlement = &settled
	if err := o.journal.Exited(ctx, closed, uuid.NewString(), fill.OrderID, settled); err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	}
	o.complete(key, out)

	o.logger.InfoContext(ctx, "orchestrator: position settled",
		slog.String("position_id", closed.ID),
		slog.String("symbol", closed.Symbol),
		slog.String("venue_order_id", fill.OrderID),
		slog.String("exit_price", settled.ExitPrice.String()),
		slog.String("actual_profit_loss", settled.ActualProfitLoss.String()),
	)
	return out, nil
}

// settleRecorded finishes a close whose venue fill was recorded on the
// position by an earlier call. No order is sent.
func (o *Orchestrator) settleRecorded(ctx context.Context, key string, pos domain.Position, req CloseRequest, out Outcome) (Outcome, error) {
	c := pos.Closing
	fill := domain.Fill{OrderID: c.VenueOrderID, Status: "FILLED", AvgPrice: *c.ExitPrice, ExecutedQty: pos.Quantity}
	out.VenueLeg = LegResult{Status: LegOK, OrderID: c.VenueOrderID}
	out.Fill = &fill
	out.Warnings = append(out.Warnings, fmt.Sprintf("settled recorded fill of venue order %s", c.VenueOrderID))

	o.logger.InfoContext(ctx, "orchestrator: settling recorded close fill",
		slog.String("position_id", pos.ID),
		slog.String("venue_order_id", c.VenueOrderID),
	)
	closed, settled, err := o.positions.Close(ctx, service.CloseParams{
		ID:        pos.ID,
		ExitPrice: *c.ExitPrice,
		Reason:    req.Reason,
		OrderID:   c.VenueOrderID,
	})
	if err != nil {
		splitErr := &domain.SplitOutcomeError{VenueOrderID: c.VenueOrderID, PositionID: pos.ID, Symbol: pos.Symbol, Err: err}
		out.LedgerLeg = LegResult{Status: LegFailed, Error: err.Error()}
		o.complete(key, out)
		o.logger.ErrorContext(ctx, "orchestrator: close split outcome",
			slog.String("symbol", pos.Symbol),
			slog.String("venue_order_id", c.VenueOrderID),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		o.notify(ctx, notify.SplitOutcome(splitErr))
		return out, fmt.Errorf("orchestrator: close %s: %w", pos.Symbol, splitErr)
	}
	out.LedgerLeg = LegResult{Status: LegOK}
	out.Position = &closed
	out.Settlement = &settled
	if err := o.journal.Exited(ctx, closed, uuid.NewString(), c.VenueOrderID, settled); err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	}
	o.complete(key, out)
	return out, nil
}

// rememberPrice stores the executed price as the symbol's reference price.
func (o *Orchestrator) rememberPrice(ctx context.Context, symbol string, fill domain.Fill) {
	if o.prices == nil {
		return
	}
	price, ok := fillPrice(fill, nil)
	if !ok {
		return
	}
	if err := o.prices.SetPrice(ctx, symbol, price, time.Now()); err != nil {
		o.logger.WarnContext(ctx, "orchestrator: cache price failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) settle(ctx context.Context, pos domain.Position, req CloseRequest, fill domain.Fill) (domain.Position, domain.Settlement, error) {
	exit, ok := fillPrice(fill, req.ClosePrice)
	if !ok {
		return domain.Position{}, domain.Settlement{}, fmt.Errorf("venue order %s reported no price: %w", fill.OrderID, domain.ErrInsufficientData)
	}
	return o.positions.Close(ctx, service.CloseParams{
		ID:        pos.ID,
		ExitPrice: exit,
		Reason:    req.Reason,
		OrderID:   fill.OrderID,
	})
}

// clientOrderID derives a venue client order id (at most 36 characters).
func clientOrderID(id string) string {
	if len(id) > 32 {
		id = id[:32]
	}
	return "pb-" + id
}
