package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StatusLabel is the human-visible status of a ledger record.
type StatusLabel string

const (
	StatusSignalReceived StatusLabel = "signal_received"
	StatusOrderPlaced    StatusLabel = "order_placed"
	StatusClosed         StatusLabel = "closed"
)

// LedgerRecord is one row of the external audit ledger, written for every
// OPEN, ADD and EXIT event.
type LedgerRecord struct {
	RecordID    string           `json:"record_id"`
	Operation   Operation        `json:"operation"`
	PositionID  string           `json:"position_id"`
	ParentID    string           `json:"parent_order_id"`
	Symbol      string           `json:"symbol"`
	Direction   Direction        `json:"direction"`
	TradeType   TradeType        `json:"trade_type"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Leverage    int              `json:"leverage"`
	ExitPrice   *decimal.Decimal `json:"exit_price,omitempty"`
	ProfitLoss  *decimal.Decimal `json:"profit_loss,omitempty"`
	CloseReason CloseReason      `json:"close_reason,omitempty"`
	Status      StatusLabel      `json:"status,omitempty"`
	OrderID     string           `json:"order_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// StatusUpdate flips a record's status label and optionally overwrites the
// recorded entry price and quantity with venue-confirmed values.
type StatusUpdate struct {
	RecordID   string           `json:"record_id"`
	Status     StatusLabel      `json:"status,omitempty"`
	OrderID    string           `json:"order_id,omitempty"`
	EntryPrice *decimal.Decimal `json:"entry_price,omitempty"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
}

// LedgerCapabilities is what a sink reports about itself at startup.
type LedgerCapabilities struct {
	StatusField bool
}

// LedgerSink is a persisted ledger backend.
type LedgerSink interface {
	Probe(ctx context.Context) (LedgerCapabilities, error)
	Append(ctx context.Context, rec LedgerRecord) error
	UpdateStatus(ctx context.Context, upd StatusUpdate) error
	Name() string
}

// LedgerReader is implemented by sinks that can be queried back for the
// batch reconciliation report.
type LedgerReader interface {
	ListRecords(ctx context.Context, opts ListOpts) ([]LedgerRecord, error)
}
