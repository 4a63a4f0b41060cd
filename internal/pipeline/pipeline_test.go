package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionbot/internal/cache/memory"
	"github.com/alanyoungcy/positionbot/internal/classifier"
	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/orchestrator"
	"github.com/alanyoungcy/positionbot/internal/service"
	"github.com/alanyoungcy/positionbot/internal/store/filestore"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingTrader struct {
	mu     sync.Mutex
	opens  []orchestrator.OpenRequest
	closes []orchestrator.CloseRequest
}

func (t *recordingTrader) OpenAndTrack(_ context.Context, req orchestrator.OpenRequest) (orchestrator.Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens = append(t.opens, req)
	return orchestrator.Outcome{}, nil
}

func (t *recordingTrader) CloseAndSettle(_ context.Context, req orchestrator.CloseRequest) (orchestrator.Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes = append(t.closes, req)
	return orchestrator.Outcome{}, nil
}

type lookup map[string]domain.Position

func (l lookup) Get(_ context.Context, id string) (domain.Position, error) {
	p, ok := l[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func std() *classifier.Classifier { return classifier.New(classifier.DefaultVocabulary(), "USDT") }

func TestTradeRouter(t *testing.T) {
	trader := &recordingTrader{}
	r := NewTradeRouter(std(), trader, lookup{"pos-1": {ID: "pos-1", Symbol: "SOLUSDT"}})
	ctx := context.Background()
	qty := decimal.NewFromInt(3)
	lev := 5

	require.NoError(t, r.Route(ctx, "k1", IntentMessage{TradeIntent: domain.TradeIntent{
		Operation: domain.OperationOpen, Symbol: "SOLUSDT", Direction: domain.DirectionLong,
		TradeType: domain.TradeTypeMargined, Quantity: &qty, Leverage: &lev,
	}}))
	require.NoError(t, r.Route(ctx, "k2", IntentMessage{TradeIntent: domain.TradeIntent{
		OperationHint: "平仓", ParentID: "pos-1", CloseReason: domain.CloseReasonTakeProfit,
	}}))

	err := r.Route(ctx, "k3", IntentMessage{TradeIntent: domain.TradeIntent{Operation: domain.OperationAdd, Symbol: "SOLUSDT"}})
	assert.ErrorIs(t, err, ErrNotRoutable)

	err = r.Route(ctx, "k4", IntentMessage{TradeIntent: domain.TradeIntent{Operation: domain.OperationExit}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.Len(t, trader.opens, 1)
	assert.Equal(t, "k1", trader.opens[0].IdempotencyKey)
	assert.Equal(t, 5, trader.opens[0].Leverage)
	require.Len(t, trader.closes, 1)
	assert.Equal(t, "SOLUSDT", trader.closes[0].Symbol)
	assert.Equal(t, "k2", trader.closes[0].IdempotencyKey)
	assert.Equal(t, domain.CloseReasonTakeProfit, trader.closes[0].Reason)
}

func TestIntentConsumer_TracksStreamEntries(t *testing.T) {
	st, err := filestore.Open(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, err)
	positions := service.NewPositionService(st, quiet())
	signals := service.NewSignalService(std(), positions, nil, nil, decimal.Zero, quiet())

	bus := memory.NewBus(100)
	c := NewIntentConsumer(bus, NewTrackRouter(signals), quiet())
	c.block = 50 * time.Millisecond
	c.startID = "0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, bus.StreamAppend(ctx, IntentsStream, []byte("{broken")))
	payload, err := json.Marshal(IntentMessage{Text: "做多 BTCUSDT 入场价 90000 数量 0.5"})
	require.NoError(t, err)
	require.NoError(t, bus.StreamAppend(ctx, IntentsStream, payload))

	require.Eventually(t, func() bool {
		_, err := positions.FindOpenBySymbol(ctx, "BTCUSDT")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}

type countingArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (a *countingArchiver) ArchiveClosedPositions(_ context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cutoffs = append(a.cutoffs, before)
	return 2, nil
}

func TestArchiver_RunUsesRetention(t *testing.T) {
	blob := &countingArchiver{}
	a := NewArchiver(blob, 48*time.Hour, quiet())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.Len(t, blob.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), blob.cutoffs[0])

	assert.Error(t, a.RunEvery(context.Background(), 0))
}
