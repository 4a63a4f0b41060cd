package domain

import (
	"github.com/shopspring/decimal"
)

// Operation is the classified kind of a trade event.
type Operation string

const (
	OperationOpen Operation = "OPEN"
	OperationAdd  Operation = "ADD"
	OperationExit Operation = "EXIT"
)

// Valid reports whether op is one of the three known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationOpen, OperationAdd, OperationExit:
		return true
	}
	return false
}

// TradeIntent is the structured form of a trade-signal message, as produced
// by the extraction agent or the built-in keyword parser. Any numeric field
// may be nil; consumers must check before use.
type TradeIntent struct {
	// OperationHint is free-form text ("补仓", "close", ...) used for
	// classification when Operation is empty.
	OperationHint string    `json:"operation_hint,omitempty"`
	Operation     Operation `json:"operation,omitempty"`

	Symbol    string    `json:"symbol,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	TradeType TradeType `json:"trade_type,omitempty"`

	// Amount is ambiguous: quote notional or base quantity depending on its
	// size. Quantity is always base quantity.
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`

	EntryPrice *decimal.Decimal `json:"entry_price,omitempty"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit_price,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	Leverage   *int             `json:"leverage,omitempty"`

	// ParentID references the position group for ADD and EXIT events.
	ParentID    string      `json:"parent_order_id,omitempty"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	Strategy    string      `json:"strategy,omitempty"`
	RawText     string      `json:"raw_text,omitempty"`
}

// LeverageOrDefault returns the intent leverage, or 1 when absent or invalid.
func (t TradeIntent) LeverageOrDefault() int {
	if t.Leverage == nil || *t.Leverage < 1 {
		return 1
	}
	return *t.Leverage
}

// Dec is a small helper for building optional decimal fields.
func Dec(d decimal.Decimal) *decimal.Decimal { return &d }

// DefaultNotionalThreshold separates a quote notional from a base quantity
// when an intent only carries Amount.
var DefaultNotionalThreshold = decimal.NewFromInt(100)

// Size resolves the order size of the intent. An explicit Quantity is a base
// quantity. Otherwise an Amount above threshold is a quote notional and any
// other Amount is a base quantity. Both results are nil when neither field
// is set.
func (t TradeIntent) Size(threshold decimal.Decimal) (base, quote *decimal.Decimal) {
	switch {
	case t.Quantity != nil:
		return Dec(*t.Quantity), nil
	case t.Amount == nil:
		return nil, nil
	case t.Amount.GreaterThan(threshold):
		return nil, Dec(*t.Amount)
	default:
		return Dec(*t.Amount), nil
	}
}
