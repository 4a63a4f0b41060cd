// Package binance places orders on Binance spot and USDT-margined futures
// through the signed REST API.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/crypto"
	"github.com/alanyoungcy/positionbot/internal/domain"
)

const (
	DefaultSpotBaseURL    = "https://api.binance.com"
	DefaultFuturesBaseURL = "https://fapi.binance.com"
)

// Config holds credentials and endpoints.
type Config struct {
	APIKey         string
	APISecret      string
	SpotBaseURL    string
	FuturesBaseURL string
	RecvWindow     time.Duration
	HTTPTimeout    time.Duration
}

// Client is a domain.Venue backed by Binance.
type Client struct {
	auth       *crypto.HMACAuth
	spotURL    string
	futuresURL string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Binance client. Empty base URLs fall back to production.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.SpotBaseURL == "" {
		cfg.SpotBaseURL = DefaultSpotBaseURL
	}
	if cfg.FuturesBaseURL == "" {
		cfg.FuturesBaseURL = DefaultFuturesBaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		auth:       &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret, RecvWindow: cfg.RecvWindow},
		spotURL:    strings.TrimRight(cfg.SpotBaseURL, "/"),
		futuresURL: strings.TrimRight(cfg.FuturesBaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger.With(slog.String("component", "binance")),
		now:        time.Now,
	}
}

// Name identifies the venue.
func (c *Client) Name() string { return "binance" }

// APIError is a non-2xx answer from Binance.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != 0 || e.Message != "" {
		return fmt.Sprintf("binance: http %d: code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("binance: http %d: %s", e.StatusCode, e.Body)
}

// Is maps rate limiting and auth failures onto the domain sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == 418
	case domain.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.Code == -2014 || e.Code == -2015
	}
	return false
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Msg
	}
	return apiErr
}

// signedRequest sends a signed request with params in the query string.
func (c *Client) signedRequest(ctx context.Context, method, baseURL, path string, params url.Values) ([]byte, error) {
	query := c.auth.SignedQuery(params, c.now())
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.auth.Key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// SetLeverage sets the futures leverage for symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", domain.NormalizeSymbol(symbol))
	params.Set("leverage", strconv.Itoa(leverage))
	if _, err := c.signedRequest(ctx, http.MethodPost, c.futuresURL, "/fapi/v1/leverage", params); err != nil {
		return fmt.Errorf("binance: set leverage %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

// orderResponse covers both the spot and the futures order answers.
type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	Price               string `json:"price"`
	AvgPrice            string `json:"avgPrice"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	CumQuote            string `json:"cumQuote"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (r orderResponse) fill() domain.Fill {
	f := domain.Fill{
		OrderID:     strconv.FormatInt(r.OrderID, 10),
		Status:      r.Status,
		ExecutedQty: parseDec(r.ExecutedQty),
		AvgPrice:    parseDec(r.AvgPrice),
	}
	f.CumulativeQuote = parseDec(r.CummulativeQuoteQty)
	if f.CumulativeQuote.IsZero() {
		f.CumulativeQuote = parseDec(r.CumQuote)
	}
	// Spot answers carry per-trade fills instead of an average.
	if f.AvgPrice.IsZero() && len(r.Fills) > 0 {
		var notional, qty decimal.Decimal
		for _, fl := range r.Fills {
			q := parseDec(fl.Qty)
			notional = notional.Add(parseDec(fl.Price).Mul(q))
			qty = qty.Add(q)
		}
		if qty.IsPositive() {
			f.AvgPrice = notional.Div(qty)
		}
	}
	return f
}

// PlaceOrder submits req to the spot or the futures endpoint depending on
// its trade type. Futures orders set leverage first.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	params, err := orderParams(req)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("binance: place order: %w", err)
	}

	baseURL, path := c.spotURL, "/api/v3/order"
	if req.TradeType == domain.TradeTypeMargined {
		baseURL, path = c.futuresURL, "/fapi/v1/order"
		if req.Leverage > 1 && !req.ReduceOnly {
			if err := c.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
				return domain.Fill{}, err
			}
		}
	} else {
		params.Set("newOrderRespType", "FULL")
	}

	body, err := c.signedRequest(ctx, http.MethodPost, baseURL, path, params)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("binance: place order %s %s: %w", req.Side, req.Symbol, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Fill{}, fmt.Errorf("binance: decode order: %w", err)
	}
	fill := resp.fill()

	c.logger.InfoContext(ctx, "binance: order placed",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("kind", string(req.Kind)),
		slog.String("order_id", fill.OrderID),
		slog.String("status", fill.Status),
		slog.String("executed_qty", fill.ExecutedQty.String()),
	)
	return fill, nil
}

var errNoSize = errors.New("order needs a quantity or a quote quantity")

func orderParams(req domain.OrderRequest) (url.Values, error) {
	if req.Symbol == "" {
		return nil, domain.Invalid("symbol", "required")
	}
	params := url.Values{}
	params.Set("symbol", domain.NormalizeSymbol(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Kind))
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	futures := req.TradeType == domain.TradeTypeMargined
	switch req.Kind {
	case domain.OrderKindLimit:
		if req.Price == nil || !req.Price.IsPositive() {
			return nil, domain.Invalid("price", "limit order needs a positive price")
		}
		qty := req.Quantity
		if qty == nil && req.QuoteQuantity != nil {
			q := req.QuoteQuantity.Div(*req.Price)
			qty = &q
		}
		if qty == nil {
			return nil, domain.Invalid("quantity", errNoSize.Error())
		}
		params.Set("quantity", qty.String())
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	case domain.OrderKindMarket:
		switch {
		case req.Quantity != nil:
			params.Set("quantity", req.Quantity.String())
		case req.QuoteQuantity != nil && futures:
			return nil, domain.Invalid("quantity", "futures market orders need a base quantity")
		case req.QuoteQuantity != nil:
			params.Set("quoteOrderQty", req.QuoteQuantity.String())
		default:
			return nil, domain.Invalid("quantity", errNoSize.Error())
		}
	default:
		return nil, domain.Invalid("kind", fmt.Sprintf("unsupported order type %q", req.Kind))
	}
	if futures && req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	return params, nil
}

var _ domain.Venue = (*Client)(nil)
