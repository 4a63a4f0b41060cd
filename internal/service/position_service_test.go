package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

func openBTC(t *testing.T, svc *PositionService, leverage int) domain.Position {
	t.Helper()
	pos, err := svc.Create(context.Background(), OpenParams{
		Symbol: "btc/usdt", Direction: domain.DirectionLong,
		EntryPrice: d("90000"), Quantity: d("1"), Leverage: leverage,
	})
	require.NoError(t, err)
	return pos
}

func TestPositionService_BTCScenario(t *testing.T) {
	ctx := context.Background()
	bus, audit := &fakeBus{}, &fakeAudit{}
	svc := NewPositionService(newStore(t), nil, WithBus(bus), WithAudit(audit))

	pos := openBTC(t, svc, 10)
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.Equal(t, domain.TradeTypeMargined, pos.TradeType)
	assert.True(t, pos.EntryPrice.Equal(d("90000")))

	pos, leg, err := svc.AddLeg(ctx, AddParams{ParentID: pos.ID, Price: d("88000"), Quantity: d("1")})
	require.NoError(t, err)
	assert.Equal(t, pos.ID, leg.ParentID)
	assert.True(t, pos.EntryPrice.Equal(d("89000")), pos.EntryPrice.String())
	assert.True(t, pos.Quantity.Equal(d("2")))
	require.Len(t, pos.Legs, 2)

	closed, s, err := svc.Close(ctx, CloseParams{ID: pos.ID, ExitPrice: d("92000"), Reason: domain.CloseReasonTakeProfit})
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.True(t, s.ProfitLoss.Equal(d("6000")))
	assert.True(t, s.ActualProfitLoss.Equal(d("60000")))
	assert.Equal(t, "3.37", s.ProfitLossPercent.StringFixed(2))
	require.NotNil(t, closed.CloseTime)

	assert.Equal(t, []string{"position_opened", "position_added", "position_closed"}, audit.events)
	require.Len(t, bus.published[PositionsChannel], 3)
	var evt map[string]any
	require.NoError(t, json.Unmarshal(bus.published[PositionsChannel][2], &evt))
	assert.Equal(t, "position_closed", evt["event"])
}

func TestPositionService_ETHShortScenario(t *testing.T) {
	ctx := context.Background()
	svc := NewPositionService(newStore(t), nil)
	pos, err := svc.Create(ctx, OpenParams{
		Symbol: "ETHUSDT", Direction: domain.DirectionShort, EntryPrice: d("3000"), Quantity: d("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TradeTypeSpot, pos.TradeType)
	assert.Equal(t, 1, pos.Leverage)

	_, s, err := svc.Close(ctx, CloseParams{ID: pos.ID, ExitPrice: d("2800")})
	require.NoError(t, err)
	assert.True(t, s.ProfitLoss.Equal(d("400")))
	assert.Equal(t, "6.67", s.ProfitLossPercent.StringFixed(2))
}

func TestPositionService_DoubleCloseKeepsPnL(t *testing.T) {
	ctx := context.Background()
	svc := NewPositionService(newStore(t), nil)
	pos := openBTC(t, svc, 1)

	_, first, err := svc.Close(ctx, CloseParams{ID: pos.ID, ExitPrice: d("91000")})
	require.NoError(t, err)
	_, _, err = svc.Close(ctx, CloseParams{ID: pos.ID, ExitPrice: d("50000")})
	assert.ErrorIs(t, err, domain.ErrPositionClosed)

	got, err := svc.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, got.ProfitLoss.Equal(first.ProfitLoss))
	assert.True(t, got.ClosePrice.Equal(d("91000")))
	assert.Equal(t, domain.CloseReasonManual, got.CloseReason)
}

func TestPositionService_OneOpenPerSymbol(t *testing.T) {
	ctx := context.Background()
	svc := NewPositionService(newStore(t), nil)
	pos := openBTC(t, svc, 1)

	_, err := svc.Create(ctx, OpenParams{Symbol: "BTCUSDT", Direction: domain.DirectionShort, EntryPrice: d("1"), Quantity: d("1")})
	assert.ErrorIs(t, err, domain.ErrPositionOpen)

	_, err = svc.Create(ctx, OpenParams{ID: pos.ID, Symbol: "ETHUSDT", Direction: domain.DirectionLong, EntryPrice: d("1"), Quantity: d("1")})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, _, err = svc.Close(ctx, CloseParams{ID: pos.ID, ExitPrice: d("90000")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, OpenParams{Symbol: "BTCUSDT", Direction: domain.DirectionShort, EntryPrice: d("1"), Quantity: d("1")})
	assert.NoError(t, err)
}

func TestPositionService_CreateValidation(t *testing.T) {
	svc := NewPositionService(newStore(t), nil)
	for name, p := range map[string]OpenParams{
		"symbol":    {Direction: domain.DirectionLong, EntryPrice: d("1"), Quantity: d("1")},
		"direction": {Symbol: "BTCUSDT", EntryPrice: d("1"), Quantity: d("1")},
		"price":     {Symbol: "BTCUSDT", Direction: domain.DirectionLong, Quantity: d("1")},
		"quantity":  {Symbol: "BTCUSDT", Direction: domain.DirectionLong, EntryPrice: d("1"), Quantity: d("-1")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), p)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestPositionService_UpdateVenueActuals(t *testing.T) {
	ctx := context.Background()
	svc := NewPositionService(newStore(t), nil)
	pos := openBTC(t, svc, 1)
	pos, _, err := svc.AddLeg(ctx, AddParams{ParentID: pos.ID, Price: d("88000"), Quantity: d("1")})
	require.NoError(t, err)

	orderID := "o-1"
	notes := "confirmed"
	got, err := svc.Update(ctx, pos.ID, domain.PositionDelta{
		EntryPrice: dp("90200"), OrderID: &orderID, Notes: &notes, StopLoss: dp("85000"),
	})
	require.NoError(t, err)
	// (90200 + 88000) / 2
	assert.True(t, got.EntryPrice.Equal(d("89100")), got.EntryPrice.String())
	assert.Equal(t, []string{"o-1"}, got.VenueOrderIDs)
	assert.Equal(t, "o-1", got.Legs[0].OrderID)
	assert.Equal(t, "confirmed", got.Notes)
	assert.True(t, got.StopLoss.Equal(d("85000")))

	_, err = svc.Update(ctx, pos.ID, domain.PositionDelta{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.Update(ctx, pos.ID, domain.PositionDelta{Quantity: dp("0")})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.Update(ctx, "ghost", domain.PositionDelta{Notes: &notes})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = svc.Close(ctx, CloseParams{ID: pos.ID, ExitPrice: d("90000")})
	require.NoError(t, err)
	_, err = svc.Update(ctx, pos.ID, domain.PositionDelta{Notes: &notes})
	assert.ErrorIs(t, err, domain.ErrPositionClosed)
}

func TestPositionService_AddLegRejectsBeforeMutation(t *testing.T) {
	ctx := context.Background()
	svc := NewPositionService(newStore(t), nil)
	pos := openBTC(t, svc, 1)

	_, _, err := svc.AddLeg(ctx, AddParams{Price: d("1"), Quantity: d("1")})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, _, err = svc.AddLeg(ctx, AddParams{ParentID: "ghost", Price: d("1"), Quantity: d("1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = svc.AddLeg(ctx, AddParams{ParentID: pos.ID, Price: d("1")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := svc.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Len(t, got.Legs, 1)
}

func TestPositionService_SaveFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	svc := NewPositionService(st, nil)
	pos := openBTC(t, svc, 1)

	broken := NewPositionService(&failingStore{PositionStore: st, saveErr: errors.New("disk full")}, nil)
	_, _, err := broken.Close(ctx, CloseParams{ID: pos.ID, ExitPrice: d("95000")})
	assert.ErrorContains(t, err, "disk full")

	got, err := svc.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
}

func TestPositionService_SymbolLocks(t *testing.T) {
	locks := &fakeLocks{}
	svc := NewPositionService(newStore(t), nil, WithSymbolLocks(locks, time.Second))
	pos := openBTC(t, svc, 1)
	_, _, err := svc.Close(context.Background(), CloseParams{ID: pos.ID, ExitPrice: d("1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"position:BTCUSDT", "position:BTCUSDT"}, locks.acquired)

	held := NewPositionService(newStore(t), nil, WithSymbolLocks(&fakeLocks{err: domain.ErrLockHeld}, time.Second))
	_, err = held.Create(context.Background(), OpenParams{Symbol: "BTCUSDT", Direction: domain.DirectionLong, EntryPrice: d("1"), Quantity: d("1")})
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestPositionService_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	svc := NewPositionService(newStore(t), nil)
	pos := openBTC(t, svc, 1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.AddLeg(ctx, AddParams{ParentID: pos.ID, Price: d("80000"), Quantity: d("1")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Len(t, got.Legs, 11)
	assert.True(t, got.Quantity.Equal(d("11")))
	// (90000 + 10*80000) / 11
	assert.Equal(t, "80909.09", got.EntryPrice.StringFixed(2))
}

func TestPositionService_HistoryAndReport(t *testing.T) {
	ctx := context.Background()
	svc := NewPositionService(newStore(t), nil)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	btc := openBTC(t, svc, 10)
	eth, err := svc.Create(ctx, OpenParams{Symbol: "ETHUSDT", Direction: domain.DirectionShort, EntryPrice: d("3000"), Quantity: d("2")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, OpenParams{Symbol: "SOLUSDT", Direction: domain.DirectionLong, EntryPrice: d("150"), Quantity: d("3")})
	require.NoError(t, err)

	_, _, err = svc.Close(ctx, CloseParams{ID: btc.ID, ExitPrice: d("91000"), At: base})
	require.NoError(t, err)
	_, _, err = svc.Close(ctx, CloseParams{ID: eth.ID, ExitPrice: d("2800"), At: base.Add(time.Hour)})
	require.NoError(t, err)

	open, err := svc.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "SOLUSDT", open[0].Symbol)

	page, err := svc.History(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	assert.Equal(t, eth.ID, page.Positions[0].ID)
	assert.True(t, page.TotalProfitLoss.Equal(d("1400")))
	assert.True(t, page.TotalActualPnL.Equal(d("10400")))

	limited, err := svc.History(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, limited.Count)

	report, err := svc.Report(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Settled)
	assert.True(t, report.TotalActualPnL.Equal(d("10400")))
	// 10400 / (90000/10 + 6000/1) * 100
	assert.Equal(t, "69.33", report.AggregatePercent.StringFixed(2))

	found, err := svc.FindOpenBySymbol(ctx, "sol-usdt")
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", found.Symbol)
	_, err = svc.FindOpenBySymbol(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionService_ClosingMarker(t *testing.T) {
	ctx := context.Background()
	svc := NewPositionService(newStore(t), nil)
	pos := openBTC(t, svc, 1)

	marked, err := svc.BeginClose(ctx, pos.ID, "pb-1")
	require.NoError(t, err)
	require.NotNil(t, marked.Closing)
	assert.False(t, marked.Closing.Filled())

	again, err := svc.BeginClose(ctx, pos.ID, "pb-2")
	assert.ErrorIs(t, err, domain.ErrCloseInProgress)
	require.NotNil(t, again.Closing)
	assert.Equal(t, "pb-1", again.Closing.ClientOrderID)

	require.NoError(t, svc.AbortClose(ctx, pos.ID))
	_, err = svc.BeginClose(ctx, pos.ID, "pb-3")
	require.NoError(t, err)

	filled, err := svc.RecordCloseFill(ctx, pos.ID, "v-9", d("91000"))
	require.NoError(t, err)
	assert.True(t, filled.Closing.Filled())
	assert.Equal(t, "pb-3", filled.Closing.ClientOrderID)

	closed, _, err := svc.Close(ctx, CloseParams{ID: pos.ID, ExitPrice: d("91000"), OrderID: "v-9"})
	require.NoError(t, err)
	assert.Nil(t, closed.Closing)
	assert.Contains(t, closed.VenueOrderIDs, "v-9")
}
