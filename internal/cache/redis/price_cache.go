package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceCache implements domain.PriceCache with one hash per symbol at
// "<prefix>price:<SYMBOL>" holding fields "price" (decimal string) and "ts"
// (Unix nanoseconds). The paper venue reads it for market fills.
type PriceCache struct {
	rdb    *redis.Client
	prefix string
}

// NewPriceCache creates a PriceCache.
func NewPriceCache(c *Client, prefix string) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), prefix: prefix}
}

func (pc *PriceCache) key(symbol string) string {
	return pc.prefix + "price:" + domain.NormalizeSymbol(symbol)
}

// SetPrice stores the latest price for symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	fields := map[string]any{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, pc.key(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the latest price for symbol, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.key(symbol)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: price %s: %w", symbol, domain.ErrNotFound)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}

	var ts time.Time
	if tsStr, ok := vals["ts"]; ok {
		nanos, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
		}
		ts = time.Unix(0, nanos)
	}
	return price, ts, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
