package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/classifier"
	"github.com/alanyoungcy/positionbot/internal/domain"
)

// SignalResult is what tracking one trade event produced.
type SignalResult struct {
	EventID     string             `json:"event_id"`
	Operation   domain.Operation   `json:"operation"`
	ParentID    string             `json:"parent_order_id,omitempty"`
	Position    domain.Position    `json:"position"`
	Settlement  *domain.Settlement `json:"settlement,omitempty"`
	LedgerError string             `json:"ledger_error,omitempty"`
}

// SignalService turns trade events into position store mutations without
// touching an execution venue.
type SignalService struct {
	classifier *classifier.Classifier
	positions  *PositionService
	journal    *Journal
	prices     domain.PriceCache
	threshold  decimal.Decimal
	logger     *slog.Logger
}

// NewSignalService wires a SignalService. prices may be nil; it fills in a
// missing entry price for OPEN and ADD events.
func NewSignalService(c *classifier.Classifier, positions *PositionService, journal *Journal, prices domain.PriceCache, notionalThreshold decimal.Decimal, logger *slog.Logger) *SignalService {
	if logger == nil {
		logger = slog.Default()
	}
	if !notionalThreshold.IsPositive() {
		notionalThreshold = domain.DefaultNotionalThreshold
	}
	return &SignalService{
		classifier: c,
		positions:  positions,
		journal:    journal,
		prices:     prices,
		threshold:  notionalThreshold,
		logger:     logger.With(slog.String("component", "signal_service")),
	}
}

// Classifier exposes the rule set used for free text.
func (s *SignalService) Classifier() *classifier.Classifier { return s.classifier }

// HandleText parses a free-text message and tracks it.
func (s *SignalService) HandleText(ctx context.Context, text string) (SignalResult, error) {
	if strings.TrimSpace(text) == "" {
		return SignalResult{}, fmt.Errorf("signal_service: %w", domain.Invalid("text", "empty message"))
	}
	return s.Handle(ctx, s.classifier.Parse(text))
}

// Handle classifies, validates and applies one structured intent. ADD and
// EXIT must name an open parent position on the same symbol; otherwise the
// event is rejected before anything is written.
func (s *SignalService) Handle(ctx context.Context, intent domain.TradeIntent) (SignalResult, error) {
	op := s.classifier.Resolve(intent)
	if err := classifier.Validate(intent, op); err != nil {
		return SignalResult{Operation: op}, fmt.Errorf("signal_service: %s: %w", op, err)
	}

	var (
		res SignalResult
		err error
	)
	switch op {
	case domain.OperationOpen:
		res, err = s.open(ctx, intent)
	case domain.OperationAdd:
		res, err = s.add(ctx, intent)
	case domain.OperationExit:
		res, err = s.exit(ctx, intent)
	}
	res.Operation = op
	if err != nil {
		return res, fmt.Errorf("signal_service: %s: %w", op, err)
	}

	s.logger.InfoContext(ctx, "signal_service: event tracked",
		slog.String("operation", string(op)),
		slog.String("event_id", res.EventID),
		slog.String("position_id", res.Position.ID),
		slog.String("symbol", res.Position.Symbol),
	)
	return res, nil
}

// observePrice records a price quoted by a signal as the symbol's latest
// reference price.
func (s *SignalService) observePrice(ctx context.Context, symbol string, price decimal.Decimal) {
	if s.prices == nil || symbol == "" || !price.IsPositive() {
		return
	}
	if err := s.prices.SetPrice(ctx, symbol, price, time.Now()); err != nil {
		s.logger.WarnContext(ctx, "signal_service: cache price failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// referencePrice returns explicit when set, otherwise the cached price.
func (s *SignalService) referencePrice(ctx context.Context, symbol string, explicit *decimal.Decimal) (decimal.Decimal, error) {
	if explicit != nil {
		s.observePrice(ctx, symbol, *explicit)
		return *explicit, nil
	}
	if s.prices != nil && symbol != "" {
		if p, _, err := s.prices.GetPrice(ctx, symbol); err == nil && p.IsPositive() {
			return p, nil
		}
	}
	return decimal.Zero, domain.Invalid("entry_price", "required to track a position without a venue fill")
}

func (s *SignalService) open(ctx context.Context, intent domain.TradeIntent) (SignalResult, error) {
	price, err := s.referencePrice(ctx, intent.Symbol, intent.EntryPrice)
	if err != nil {
		return SignalResult{}, err
	}
	base, quote := intent.Size(s.threshold)
	var qty decimal.Decimal
	switch {
	case base != nil:
		qty = *base
	case quote != nil:
		qty = quote.Div(price)
	default:
		return SignalResult{}, domain.Invalid("quantity", "amount or quantity required to track a position")
	}

	pos, err := s.positions.Create(ctx, OpenParams{
		Symbol:     intent.Symbol,
		Direction:  intent.Direction,
		TradeType:  intent.TradeType,
		Leverage:   intent.LeverageOrDefault(),
		EntryPrice: price,
		Quantity:   qty,
		TakeProfit: intent.TakeProfit,
		StopLoss:   intent.StopLoss,
		Strategy:   intent.Strategy,
		Notes:      intent.RawText,
	})
	if err != nil {
		return SignalResult{}, err
	}
	res := SignalResult{EventID: pos.ID, Position: pos}
	if err := s.journal.Opened(ctx, pos, domain.StatusSignalReceived); err != nil {
		res.LedgerError = err.Error()
	}
	return res, nil
}

// parent resolves the parent of an ADD or EXIT event. A missing or closed
// parent, or one on a different symbol, is a validation failure.
func (s *SignalService) parent(ctx context.Context, intent domain.TradeIntent) (domain.Position, error) {
	pos, err := s.positions.Get(ctx, intent.ParentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.Invalid("parent_order_id", "unknown position "+intent.ParentID)
		}
		return domain.Position{}, err
	}
	if !pos.IsOpen() {
		return domain.Position{}, domain.Invalid("parent_order_id", "position "+pos.ID+" is already closed")
	}
	if intent.Symbol != "" && domain.NormalizeSymbol(intent.Symbol) != pos.Symbol {
		return domain.Position{}, domain.Invalid("symbol", fmt.Sprintf("%s does not match parent symbol %s", domain.NormalizeSymbol(intent.Symbol), pos.Symbol))
	}
	return pos, nil
}

func (s *SignalService) add(ctx context.Context, intent domain.TradeIntent) (SignalResult, error) {
	parent, err := s.parent(ctx, intent)
	if err != nil {
		return SignalResult{ParentID: intent.ParentID}, err
	}
	price, err := s.referencePrice(ctx, parent.Symbol, intent.EntryPrice)
	if err != nil {
		return SignalResult{ParentID: parent.ID}, err
	}

	pos, leg, err := s.positions.AddLeg(ctx, AddParams{
		ParentID: parent.ID,
		Price:    price,
		Quantity: *intent.Quantity,
	})
	if err != nil {
		return SignalResult{ParentID: parent.ID}, err
	}
	res := SignalResult{EventID: leg.ID, ParentID: parent.ID, Position: pos}
	if err := s.journal.Added(ctx, pos, leg, domain.StatusSignalReceived); err != nil {
		res.LedgerError = err.Error()
	}
	return res, nil
}

func (s *SignalService) exit(ctx context.Context, intent domain.TradeIntent) (SignalResult, error) {
	parent, err := s.parent(ctx, intent)
	if err != nil {
		return SignalResult{ParentID: intent.ParentID}, err
	}

	pos, settled, err := s.positions.Close(ctx, CloseParams{
		ID:        parent.ID,
		ExitPrice: *intent.ExitPrice,
		Reason:    intent.CloseReason,
	})
	if err != nil {
		return SignalResult{ParentID: parent.ID}, err
	}
	s.observePrice(ctx, pos.Symbol, *intent.ExitPrice)
	eventID := uuid.NewString()
	res := SignalResult{EventID: eventID, ParentID: parent.ID, Position: pos, Settlement: &settled}
	if err := s.journal.Exited(ctx, pos, eventID, "", settled); err != nil {
		res.LedgerError = err.Error()
	}
	return res, nil
}
