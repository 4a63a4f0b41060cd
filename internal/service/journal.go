package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/ledger"
)

// Journal maps lifecycle events onto external ledger records. A nil Journal
// or one without a writer records nothing.
type Journal struct {
	w *ledger.Writer
}

func NewJournal(w *ledger.Writer) *Journal { return &Journal{w: w} }

func (j *Journal) enabled() bool { return j != nil && j.w != nil }

// Opened records the OPEN event of pos; its record id is the position id.
func (j *Journal) Opened(ctx context.Context, pos domain.Position, status domain.StatusLabel) error {
	if !j.enabled() {
		return nil
	}
	var orderID string
	if len(pos.Legs) > 0 {
		orderID = pos.Legs[0].OrderID
	}
	return j.w.Record(ctx, domain.LedgerRecord{
		RecordID:   pos.ID,
		Operation:  domain.OperationOpen,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		TradeType:  pos.TradeType,
		Quantity:   domain.Dec(pos.Quantity),
		Price:      domain.Dec(pos.EntryPrice),
		Leverage:   pos.Leverage,
		Status:     status,
		OrderID:    orderID,
		CreatedAt:  pos.OpenTime,
	})
}

// Added records an ADD leg under its parent.
func (j *Journal) Added(ctx context.Context, pos domain.Position, leg domain.PositionLeg, status domain.StatusLabel) error {
	if !j.enabled() {
		return nil
	}
	return j.w.Record(ctx, domain.LedgerRecord{
		RecordID:   leg.ID,
		Operation:  domain.OperationAdd,
		PositionID: leg.ID,
		ParentID:   pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		TradeType:  pos.TradeType,
		Quantity:   leg.Quantity,
		Price:      leg.Price,
		Leverage:   pos.Leverage,
		Status:     status,
		OrderID:    leg.OrderID,
		CreatedAt:  leg.At,
	})
}

// Exited records the EXIT event eventID of a closed position and flips the
// OPEN record's label to closed.
func (j *Journal) Exited(ctx context.Context, pos domain.Position, eventID, orderID string, s domain.Settlement) error {
	if !j.enabled() {
		return nil
	}
	rec := domain.LedgerRecord{
		RecordID:    eventID,
		Operation:   domain.OperationExit,
		PositionID:  eventID,
		ParentID:    pos.ID,
		Symbol:      pos.Symbol,
		Direction:   pos.Direction,
		TradeType:   pos.TradeType,
		Quantity:    domain.Dec(s.Quantity),
		Price:       domain.Dec(s.EntryPrice),
		Leverage:    pos.Leverage,
		ExitPrice:   domain.Dec(s.ExitPrice),
		ProfitLoss:  domain.Dec(s.ActualProfitLoss),
		CloseReason: pos.CloseReason,
		Status:      domain.StatusClosed,
		OrderID:     orderID,
	}
	if pos.CloseTime != nil {
		rec.CreatedAt = *pos.CloseTime
	}
	if err := j.w.Record(ctx, rec); err != nil {
		return err
	}
	return j.w.UpdateStatus(ctx, domain.StatusUpdate{RecordID: pos.ID, Status: domain.StatusClosed})
}

// Confirm stamps a record with the venue order and the venue-confirmed
// entry price and quantity.
func (j *Journal) Confirm(ctx context.Context, recordID, orderID string, price, qty *decimal.Decimal) error {
	if !j.enabled() {
		return nil
	}
	return j.w.UpdateStatus(ctx, domain.StatusUpdate{
		RecordID:   recordID,
		Status:     domain.StatusOrderPlaced,
		OrderID:    orderID,
		EntryPrice: price,
		Quantity:   qty,
	})
}
