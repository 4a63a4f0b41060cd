// Package paper simulates order execution against reference prices.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// Trade is one simulated execution.
type Trade struct {
	OrderID  string
	Symbol   string
	Side     domain.OrderSide
	Price    decimal.Decimal
	Quantity decimal.Decimal
	At       time.Time
}

// Venue fills every order immediately. MARKET orders execute at the latest
// reference price for the symbol; LIMIT orders at their limit price.
type Venue struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	trades []Trade

	cache    domain.PriceCache
	maxStale time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Venue.
type Option func(*Venue)

// WithPriceCache consults cache when no price was pushed via UpdatePrice.
// Cached prices older than maxStale are ignored; zero accepts any age.
func WithPriceCache(cache domain.PriceCache, maxStale time.Duration) Option {
	return func(v *Venue) {
		v.cache = cache
		v.maxStale = maxStale
	}
}

// New creates a paper venue.
func New(logger *slog.Logger, opts ...Option) *Venue {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Venue{
		prices: make(map[string]decimal.Decimal),
		logger: logger.With(slog.String("component", "paper")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name identifies the venue.
func (v *Venue) Name() string { return "paper" }

// UpdatePrice sets the reference price for symbol.
func (v *Venue) UpdatePrice(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[domain.NormalizeSymbol(symbol)] = price
}

func (v *Venue) referencePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v.mu.Lock()
	price, ok := v.prices[symbol]
	v.mu.Unlock()
	if ok {
		return price, nil
	}
	if v.cache == nil {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, domain.ErrNoReferencePrice)
	}

	price, ts, err := v.cache.GetPrice(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%s: %w", symbol, domain.ErrNoReferencePrice)
		}
		return decimal.Zero, err
	}
	if v.maxStale > 0 && v.now().Sub(ts) > v.maxStale {
		return decimal.Zero, fmt.Errorf("%s: price from %s is stale: %w", symbol, ts.Format(time.RFC3339), domain.ErrNoReferencePrice)
	}
	return price, nil
}

// PlaceOrder fills req in full.
func (v *Venue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	symbol := domain.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return domain.Fill{}, fmt.Errorf("paper: place order: %w", domain.Invalid("symbol", "required"))
	}

	var price decimal.Decimal
	switch req.Kind {
	case domain.OrderKindLimit:
		if req.Price == nil || !req.Price.IsPositive() {
			return domain.Fill{}, fmt.Errorf("paper: place order: %w", domain.Invalid("price", "limit order needs a positive price"))
		}
		price = *req.Price
	case domain.OrderKindMarket:
		p, err := v.referencePrice(ctx, symbol)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("paper: place order: %w", err)
		}
		price = p
	default:
		return domain.Fill{}, fmt.Errorf("paper: place order: %w", domain.Invalid("kind", fmt.Sprintf("unsupported order type %q", req.Kind)))
	}

	var qty decimal.Decimal
	switch {
	case req.Quantity != nil:
		qty = *req.Quantity
	case req.QuoteQuantity != nil:
		qty = req.QuoteQuantity.Div(price)
	default:
		return domain.Fill{}, fmt.Errorf("paper: place order: %w", domain.Invalid("quantity", "order needs a quantity or a quote quantity"))
	}
	if !qty.IsPositive() {
		return domain.Fill{}, fmt.Errorf("paper: place order: %w", domain.Invalid("quantity", "must be positive"))
	}

	trade := Trade{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Side:     req.Side,
		Price:    price,
		Quantity: qty,
		At:       v.now(),
	}
	v.mu.Lock()
	v.trades = append(v.trades, trade)
	v.mu.Unlock()

	v.logger.InfoContext(ctx, "paper: order filled",
		slog.String("order_id", trade.OrderID),
		slog.String("symbol", symbol),
		slog.String("side", string(req.Side)),
		slog.String("price", price.String()),
		slog.String("qty", qty.String()),
	)

	return domain.Fill{
		OrderID:         trade.OrderID,
		Status:          "FILLED",
		ExecutedQty:     qty,
		AvgPrice:        price,
		CumulativeQuote: price.Mul(qty),
	}, nil
}

// Trades returns a copy of every simulated execution.
func (v *Venue) Trades() []Trade {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Trade, len(v.trades))
	copy(out, v.trades)
	return out
}

var _ domain.Venue = (*Venue)(nil)
