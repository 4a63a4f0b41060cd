package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionbot/internal/cache/memory"
	"github.com/alanyoungcy/positionbot/internal/classifier"
	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/ledger"
	"github.com/alanyoungcy/positionbot/internal/orchestrator"
	"github.com/alanyoungcy/positionbot/internal/server/handler"
	"github.com/alanyoungcy/positionbot/internal/service"
	"github.com/alanyoungcy/positionbot/internal/store/filestore"
	"github.com/alanyoungcy/positionbot/internal/venue/paper"
)

const apiKey = "test-key"

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type denyLimiter struct{ allow bool }

func (l denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

type failingVenue struct{}

func (failingVenue) Name() string { return "down" }

func (failingVenue) PlaceOrder(context.Context, domain.OrderRequest) (domain.Fill, error) {
	return domain.Fill{}, errors.New("connection refused")
}

type testEnv struct {
	handler http.Handler
	venue   *paper.Venue
	ledger  *ledger.Memory
}

func newEnv(t *testing.T, venue domain.Venue, limiter domain.RateLimiter) *testEnv {
	t.Helper()
	st, err := filestore.Open(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, err)

	sink := ledger.NewMemory(true)
	w, err := ledger.New(context.Background(), sink, time.Second, nil)
	require.NoError(t, err)
	journal := service.NewJournal(w)

	positions := service.NewPositionService(st, nil)
	signals := service.NewSignalService(classifier.New(classifier.DefaultVocabulary(), "USDT"), positions, journal, nil, decimal.Zero, nil)

	prices := memory.NewPriceCache()
	pv, _ := venue.(*paper.Venue)
	if venue == nil {
		pv = paper.New(nil, paper.WithPriceCache(prices, 0))
		venue = pv
	}
	orch := orchestrator.New(venue, positions, orchestrator.Config{}, nil,
		orchestrator.WithJournal(journal), orchestrator.WithPriceCache(prices))

	reader, _ := w.Reader()
	h := Handlers{
		Health:    handler.NewHealthHandler("api", venue.Name(), w.Tier().String(), nil, testLogger()),
		Signals:   handler.NewSignalHandler(signals, testLogger()),
		Trades:    handler.NewTradeHandler(orch, testLogger()),
		Positions: handler.NewPositionHandler(positions, reader, testLogger()),
		Prices:    handler.NewPriceHandler(prices, testLogger()),
	}
	cfg := Config{APIKey: apiKey, RateLimit: 10}
	return &testEnv{handler: Routes(cfg, h, nil, limiter, testLogger()), venue: pv, ledger: sink}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthIsPublic(t *testing.T) {
	env := newEnv(t, nil, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignalLifecycle(t *testing.T) {
	env := newEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/signals", map[string]any{
		"text": "做多 BTCUSDT 入场价 90000 数量 0.5 止损 85000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode[service.SignalResult](t, rec)
	assert.Equal(t, domain.OperationOpen, opened.Operation)

	rec = env.do(t, http.MethodPost, "/api/signals", map[string]any{
		"operation":       "ADD",
		"parent_order_id": opened.Position.ID,
		"entry_price":     "88000",
		"quantity":        "0.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/signals", map[string]any{
		"operation":       "EXIT",
		"parent_order_id": opened.Position.ID,
		"exit_price":      "91000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	exited := decode[service.SignalResult](t, rec)
	require.NotNil(t, exited.Settlement)
	// Basis 89000 over 1.0: +2000.
	assert.True(t, exited.Settlement.ProfitLoss.Equal(decimal.NewFromInt(2000)), exited.Settlement.ProfitLoss.String())

	rec = env.do(t, http.MethodPost, "/api/signals", map[string]any{
		"operation":       "EXIT",
		"parent_order_id": opened.Position.ID,
		"exit_price":      "91000",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/positions/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[service.HistoryPage](t, rec)
	assert.Equal(t, 1, page.Count)

	rec = env.do(t, http.MethodGet, "/api/report?source=ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report struct {
		Settled         int             `json:"settled"`
		TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Settled)
	assert.True(t, report.TotalProfitLoss.Equal(decimal.NewFromInt(2000)), report.TotalProfitLoss.String())
}

func TestSignalValidation(t *testing.T) {
	env := newEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/signals", map[string]any{"operation": "OPEN", "symbol": "BTCUSDT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.NotEmpty(t, body["field"])

	req := httptest.NewRequest(http.MethodPost, "/api/signals", bytes.NewBufferString("{not json"))
	req.Header.Set("X-API-Key", apiKey)
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestTradesOpenAndClose(t *testing.T) {
	env := newEnv(t, nil, nil)
	env.venue.UpdatePrice("ETHUSDT", decimal.NewFromInt(3000))

	rec := env.do(t, http.MethodPost, "/api/trades/open", map[string]any{
		"symbol": "ETHUSDT", "direction": "LONG", "quantity": "2",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode[orchestrator.Outcome](t, rec)
	assert.True(t, opened.OK())

	rec = env.do(t, http.MethodPost, "/api/trades/open", map[string]any{
		"symbol": "ETHUSDT", "direction": "LONG", "quantity": "1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/positions/"+opened.PositionID, map[string]any{"take_profit_price": "3300"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env.venue.UpdatePrice("ETHUSDT", decimal.NewFromInt(3100))
	rec = env.do(t, http.MethodPost, "/api/trades/close", map[string]any{"symbol": "ETHUSDT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[orchestrator.Outcome](t, rec)
	require.NotNil(t, closed.Settlement)
	assert.True(t, closed.Settlement.ProfitLoss.Equal(decimal.NewFromInt(200)))

	rec = env.do(t, http.MethodPost, "/api/trades/close", map[string]any{"symbol": "ETHUSDT"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/positions?status=closed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestTradesVenueFailure(t *testing.T) {
	env := newEnv(t, failingVenue{}, nil)

	rec := env.do(t, http.MethodPost, "/api/trades/open", map[string]any{
		"symbol": "BTCUSDT", "direction": "SHORT", "quantity": "1",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body struct {
		Error   string               `json:"error"`
		Outcome orchestrator.Outcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, orchestrator.LegFailed, body.Outcome.VenueLeg.Status)

	rec = env.do(t, http.MethodGet, "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestGetPositionNotFound(t *testing.T) {
	env := newEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/api/positions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/positions?status=pending", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, nil, denyLimiter{allow: false})
	rec := env.do(t, http.MethodGet, "/api/positions", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/trades/open", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPricesSeedMarketFills(t *testing.T) {
	env := newEnv(t, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/prices/SOLUSDT", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/prices/sol-usdt", map[string]any{"price": "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/prices/sol-usdt", map[string]any{"price": "150"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/prices/SOLUSDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "SOLUSDT", got.Symbol)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(150)))

	rec = env.do(t, http.MethodPost, "/api/trades/open", map[string]any{
		"symbol": "SOLUSDT", "direction": "LONG", "quantity": "2",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode[orchestrator.Outcome](t, rec)
	require.NotNil(t, opened.Position)
	assert.True(t, opened.Position.EntryPrice.Equal(decimal.NewFromInt(150)))
}
