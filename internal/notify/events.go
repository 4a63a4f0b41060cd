package notify

import (
	"errors"
	"strconv"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// Event names accepted by the notify.events filter.
const (
	EventPositionOpened = "position_opened"
	EventPositionAdded  = "position_added"
	EventPositionClosed = "position_closed"
	EventSplitOutcome   = "split_outcome"
	EventVenueFailed    = "venue_failed"
)

// PositionOpened renders a new position.
func PositionOpened(p domain.Position) Message {
	fields := []Field{
		{"Symbol", p.Symbol},
		{"Direction", string(p.Direction)},
		{"Entry", p.EntryPrice.String()},
		{"Quantity", p.Quantity.String()},
		{"Type", string(p.TradeType)},
	}
	if p.Leverage > 1 {
		fields = append(fields, Field{"Leverage", strconv.Itoa(p.Leverage) + "x"})
	}
	if p.TakeProfit != nil {
		fields = append(fields, Field{"Take profit", p.TakeProfit.String()})
	}
	if p.StopLoss != nil {
		fields = append(fields, Field{"Stop loss", p.StopLoss.String()})
	}
	fields = append(fields, Field{"Position", p.ID})
	return Message{Event: EventPositionOpened, Title: "Position opened " + p.Symbol, Fields: fields}
}

// PositionAdded renders a position after an ADD leg.
func PositionAdded(p domain.Position) Message {
	return Message{
		Event: EventPositionAdded,
		Title: "Position increased " + p.Symbol,
		Fields: []Field{
			{"Average entry", p.EntryPrice.String()},
			{"Quantity", p.Quantity.String()},
			{"Legs", strconv.Itoa(len(p.Legs))},
			{"Position", p.ID},
		},
	}
}

// PositionClosed renders a settled position.
func PositionClosed(p domain.Position) Message {
	fields := []Field{{"Symbol", p.Symbol}, {"Direction", string(p.Direction)}, {"Entry", p.EntryPrice.String()}}
	if p.ClosePrice != nil {
		fields = append(fields, Field{"Exit", p.ClosePrice.String()})
	}
	if p.ActualProfitLoss != nil {
		fields = append(fields, Field{"PnL", p.ActualProfitLoss.StringFixed(2)})
	}
	if p.ActualProfitLossPercent != nil {
		fields = append(fields, Field{"Return", p.ActualProfitLossPercent.StringFixed(2) + "%"})
	}
	if p.CloseReason != "" {
		fields = append(fields, Field{"Reason", string(p.CloseReason)})
	}
	fields = append(fields, Field{"Position", p.ID})

	level := LevelInfo
	if p.ActualProfitLoss != nil && p.ActualProfitLoss.IsNegative() {
		level = LevelWarn
	}
	return Message{Event: EventPositionClosed, Level: level, Title: "Position closed " + p.Symbol, Fields: fields}
}

// SplitOutcome renders a venue order that the position ledger could not
// follow. It always passes the event filter.
func SplitOutcome(err error) Message {
	msg := Message{Event: EventSplitOutcome, Level: LevelError, Title: "Manual reconciliation needed"}
	var split *domain.SplitOutcomeError
	if errors.As(err, &split) {
		msg.Fields = []Field{
			{"Symbol", split.Symbol},
			{"Venue order", split.VenueOrderID},
			{"Position", split.PositionID},
		}
		if split.Err != nil {
			msg.Fields = append(msg.Fields, Field{"Error", split.Err.Error()})
		}
		return msg
	}
	msg.Fields = []Field{{"Error", err.Error()}}
	return msg
}

// VenueFailed renders a rejected venue order.
func VenueFailed(symbol string, op domain.Operation, err error) Message {
	return Message{
		Event: EventVenueFailed,
		Level: LevelWarn,
		Title: "Order rejected " + symbol,
		Fields: []Field{
			{"Operation", string(op)},
			{"Error", err.Error()},
		},
	}
}
