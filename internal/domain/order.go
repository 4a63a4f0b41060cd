package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderKind is the venue order type.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// OrderRequest is what the orchestrator submits to an execution venue.
// Exactly one of Quantity and QuoteQuantity should be set.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Kind          OrderKind
	Quantity      *decimal.Decimal
	QuoteQuantity *decimal.Decimal
	Price         *decimal.Decimal
	Leverage      int
	TradeType     TradeType
	ReduceOnly    bool
}

// Fill is the venue's synchronous answer to an order. Any of the numeric
// fields may be zero when the venue did not report them.
type Fill struct {
	OrderID         string          `json:"order_id"`
	Status          string          `json:"status"`
	ExecutedQty     decimal.Decimal `json:"executed_qty"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	CumulativeQuote decimal.Decimal `json:"cumulative_quote"`
}

// Venue places orders on an external execution venue.
type Venue interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	Name() string
}
