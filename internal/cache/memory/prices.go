package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// PriceCache implements domain.PriceCache in memory.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]quote
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]quote)}
}

// SetPrice stores the latest price for symbol. An older timestamp than the
// stored one is ignored.
func (c *PriceCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	symbol = domain.NormalizeSymbol(symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.prices[symbol]; ok && ts.Before(cur.at) {
		return nil
	}
	c.prices[symbol] = quote{price: price, at: ts}
	return nil
}

// GetPrice returns the latest price for symbol, or domain.ErrNotFound.
func (c *PriceCache) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	symbol = domain.NormalizeSymbol(symbol)
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.prices[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("memory: price %s: %w", symbol, domain.ErrNotFound)
	}
	return q.price, q.at, nil
}
