package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed. CLOSED is
// terminal.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Direction is the market exposure of a position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Valid reports whether d is LONG or SHORT.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// OpenSide is the venue side that opens exposure in this direction.
func (d Direction) OpenSide() OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// CloseSide is the venue side that removes exposure in this direction.
func (d Direction) CloseSide() OrderSide {
	if d == DirectionShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// TradeType distinguishes spot holdings from leveraged linear futures.
type TradeType string

const (
	TradeTypeSpot     TradeType = "SPOT"
	TradeTypeMargined TradeType = "MARGINED"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStopLoss   CloseReason = "stop_loss"
)

// NormalizeSymbol upper-cases and strips separators so "btc/usdt" and
// "BTCUSDT" address the same position.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(s)
}

// PositionLeg is one OPEN or ADD fill that contributes to a position's cost
// basis. The OPEN leg's ID equals the position ID and its ParentID is empty.
type PositionLeg struct {
	ID        string           `json:"id"`
	ParentID  string           `json:"parent_id,omitempty"`
	Operation Operation        `json:"operation"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Quantity  *decimal.Decimal `json:"quantity,omitempty"`
	OrderID   string           `json:"order_id,omitempty"`
	At        time.Time        `json:"at"`
}

// Position is the durable record of a position group.
type Position struct {
	ID         string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryValue decimal.Decimal `json:"entry_value"`
	TradeType  TradeType       `json:"trade_type"`
	Leverage   int             `json:"leverage"`

	TakeProfit *decimal.Decimal `json:"take_profit_price,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss_price,omitempty"`

	Status    PositionStatus `json:"status"`
	OpenTime  time.Time      `json:"open_time"`
	CloseTime *time.Time     `json:"close_time,omitempty"`

	ClosePrice              *decimal.Decimal `json:"close_price,omitempty"`
	CloseValue              *decimal.Decimal `json:"close_value,omitempty"`
	CloseReason             CloseReason      `json:"close_reason,omitempty"`
	ProfitLoss              *decimal.Decimal `json:"profit_loss,omitempty"`
	ProfitLossPercent       *decimal.Decimal `json:"profit_loss_percent,omitempty"`
	ActualProfitLoss        *decimal.Decimal `json:"actual_profit_loss,omitempty"`
	ActualProfitLossPercent *decimal.Decimal `json:"actual_profit_loss_percent,omitempty"`

	// Closing is set while a closing venue order is outstanding or filled
	// but not yet settled.
	Closing *ClosingOrder `json:"closing_order,omitempty"`

	Legs          []PositionLeg `json:"legs,omitempty"`
	VenueOrderIDs []string      `json:"venue_order_ids,omitempty"`
	Strategy      string        `json:"strategy,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsOpen reports whether the position can still be mutated.
func (p Position) IsOpen() bool { return p.Status == PositionStatusOpen }

// Clone returns a deep copy so callers never share slices with a store.
func (p Position) Clone() Position {
	out := p
	if p.Legs != nil {
		out.Legs = make([]PositionLeg, len(p.Legs))
		copy(out.Legs, p.Legs)
	}
	if p.Closing != nil {
		c := *p.Closing
		out.Closing = &c
	}
	if p.VenueOrderIDs != nil {
		out.VenueOrderIDs = make([]string, len(p.VenueOrderIDs))
		copy(out.VenueOrderIDs, p.VenueOrderIDs)
	}
	return out
}

// ClosingOrder marks a position whose closing order was sent to a venue.
// VenueOrderID and ExitPrice are filled in once the venue reports the fill.
type ClosingOrder struct {
	ClientOrderID string           `json:"client_order_id"`
	VenueOrderID  string           `json:"venue_order_id,omitempty"`
	ExitPrice     *decimal.Decimal `json:"exit_price,omitempty"`
	RequestedAt   time.Time        `json:"requested_at"`
}

// Filled reports whether the venue fill was recorded.
func (c ClosingOrder) Filled() bool {
	return c.VenueOrderID != "" && c.ExitPrice != nil && c.ExitPrice.IsPositive()
}

// PositionDelta is a partial update. Nil fields are left untouched.
// Direction and leverage are write-once and have no delta field.
type PositionDelta struct {
	TakeProfit *decimal.Decimal `json:"take_profit_price,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	EntryPrice *decimal.Decimal `json:"entry_price,omitempty"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	Strategy   *string          `json:"strategy,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
	OrderID    *string          `json:"order_id,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d PositionDelta) Empty() bool {
	return d.TakeProfit == nil && d.StopLoss == nil && d.EntryPrice == nil &&
		d.Quantity == nil && d.Strategy == nil && d.Notes == nil && d.OrderID == nil
}

// Settlement is the realized PnL payload computed at close.
type Settlement struct {
	EntryPrice              decimal.Decimal `json:"entry_price"`
	ExitPrice               decimal.Decimal `json:"exit_price"`
	Quantity                decimal.Decimal `json:"quantity"`
	Leverage                int             `json:"leverage"`
	SignedPoints            decimal.Decimal `json:"signed_points"`
	ProfitLoss              decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent       decimal.Decimal `json:"profit_loss_percent"`
	ActualProfitLoss        decimal.Decimal `json:"actual_profit_loss"`
	ActualProfitLossPercent decimal.Decimal `json:"actual_profit_loss_percent"`
	EntryValue              decimal.Decimal `json:"entry_value"`
	CloseValue              decimal.Decimal `json:"close_value"`
}
