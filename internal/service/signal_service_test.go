package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionbot/internal/cache/memory"
	"github.com/alanyoungcy/positionbot/internal/classifier"
	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/ledger"
)

type signalFixture struct {
	svc       *SignalService
	positions *PositionService
	ledger    *ledger.Memory
}

func newSignalFixture(t *testing.T, prices domain.PriceCache) signalFixture {
	t.Helper()
	sink := ledger.NewMemory(true)
	w, err := ledger.New(context.Background(), sink, 0, nil)
	require.NoError(t, err)
	positions := NewPositionService(newStore(t), nil)
	svc := NewSignalService(classifier.New(classifier.DefaultVocabulary(), "USDT"), positions, NewJournal(w), prices, d("100"), nil)
	return signalFixture{svc: svc, positions: positions, ledger: sink}
}

func lev(n int) *int { return &n }

func TestSignalService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newSignalFixture(t, nil)

	opened, err := f.svc.Handle(ctx, domain.TradeIntent{
		Operation: domain.OperationOpen, Symbol: "BTCUSDT", Direction: domain.DirectionLong,
		EntryPrice: dp("90000"), Quantity: dp("1"), Leverage: lev(10),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OperationOpen, opened.Operation)
	assert.Equal(t, opened.Position.ID, opened.EventID)
	assert.Empty(t, opened.ParentID)

	added, err := f.svc.Handle(ctx, domain.TradeIntent{
		OperationHint: "补仓", ParentID: opened.Position.ID,
		EntryPrice: dp("88000"), Quantity: dp("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OperationAdd, added.Operation)
	assert.NotEqual(t, opened.EventID, added.EventID)
	assert.Equal(t, opened.Position.ID, added.ParentID)
	assert.True(t, added.Position.EntryPrice.Equal(d("89000")))

	exited, err := f.svc.Handle(ctx, domain.TradeIntent{
		OperationHint: "止盈离场", ParentID: opened.Position.ID, ExitPrice: dp("92000"),
		CloseReason: domain.CloseReasonTakeProfit,
	})
	require.NoError(t, err)
	require.NotNil(t, exited.Settlement)
	assert.True(t, exited.Settlement.ActualProfitLoss.Equal(d("60000")))
	assert.Empty(t, exited.LedgerError)

	records, err := f.ledger.ListRecords(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, domain.OperationOpen, records[0].Operation)
	assert.Equal(t, domain.StatusClosed, records[0].Status)
	assert.Empty(t, records[0].ParentID)
	assert.Equal(t, opened.Position.ID, records[1].ParentID)
	assert.Equal(t, opened.Position.ID, records[2].ParentID)
	assert.True(t, records[2].ProfitLoss.Equal(d("60000")))
	assert.Equal(t, domain.CloseReasonTakeProfit, records[2].CloseReason)
}

func TestSignalService_RejectsBadParentWithoutWrites(t *testing.T) {
	ctx := context.Background()
	f := newSignalFixture(t, nil)

	opened, err := f.svc.Handle(ctx, domain.TradeIntent{
		Operation: domain.OperationOpen, Symbol: "ETHUSDT", Direction: domain.DirectionShort,
		EntryPrice: dp("3000"), Quantity: dp("2"),
	})
	require.NoError(t, err)

	cases := map[string]domain.TradeIntent{
		"add without parent":   {Operation: domain.OperationAdd, EntryPrice: dp("1"), Quantity: dp("1")},
		"exit without parent":  {Operation: domain.OperationExit, ExitPrice: dp("1")},
		"add unknown parent":   {Operation: domain.OperationAdd, ParentID: "ghost", EntryPrice: dp("1"), Quantity: dp("1")},
		"exit unknown parent":  {Operation: domain.OperationExit, ParentID: "ghost", ExitPrice: dp("1")},
		"add symbol mismatch":  {Operation: domain.OperationAdd, ParentID: opened.Position.ID, Symbol: "BTCUSDT", EntryPrice: dp("1"), Quantity: dp("1")},
		"open with parent ref": {Operation: domain.OperationOpen, ParentID: opened.Position.ID, Symbol: "SOLUSDT", Direction: domain.DirectionLong, EntryPrice: dp("1")},
	}
	for name, intent := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Handle(ctx, intent)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	got, err := f.positions.Get(ctx, opened.Position.ID)
	require.NoError(t, err)
	assert.Len(t, got.Legs, 1)
	assert.True(t, got.IsOpen())

	_, err = f.svc.Handle(ctx, domain.TradeIntent{Operation: domain.OperationExit, ParentID: opened.Position.ID, ExitPrice: dp("2800")})
	require.NoError(t, err)
	_, err = f.svc.Handle(ctx, domain.TradeIntent{Operation: domain.OperationExit, ParentID: opened.Position.ID, ExitPrice: dp("2700")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	records, err := f.ledger.ListRecords(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSignalService_AmountHeuristic(t *testing.T) {
	ctx := context.Background()

	t.Run("notional", func(t *testing.T) {
		f := newSignalFixture(t, nil)
		res, err := f.svc.Handle(ctx, domain.TradeIntent{
			Operation: domain.OperationOpen, Symbol: "SOLUSDT", Direction: domain.DirectionLong,
			EntryPrice: dp("150"), Amount: dp("300"),
		})
		require.NoError(t, err)
		assert.True(t, res.Position.Quantity.Equal(d("2")))
	})

	t.Run("base quantity", func(t *testing.T) {
		f := newSignalFixture(t, nil)
		res, err := f.svc.Handle(ctx, domain.TradeIntent{
			Operation: domain.OperationOpen, Symbol: "SOLUSDT", Direction: domain.DirectionLong,
			EntryPrice: dp("150"), Amount: dp("3"),
		})
		require.NoError(t, err)
		assert.True(t, res.Position.Quantity.Equal(d("3")))
	})

	t.Run("price from cache", func(t *testing.T) {
		f := newSignalFixture(t, fakePrices{"SOLUSDT": d("100")})
		res, err := f.svc.Handle(ctx, domain.TradeIntent{
			Operation: domain.OperationOpen, Symbol: "SOLUSDT", Direction: domain.DirectionLong, Amount: dp("500"),
		})
		require.NoError(t, err)
		assert.True(t, res.Position.EntryPrice.Equal(d("100")))
		assert.True(t, res.Position.Quantity.Equal(d("5")))
	})

	t.Run("no price anywhere", func(t *testing.T) {
		f := newSignalFixture(t, nil)
		_, err := f.svc.Handle(ctx, domain.TradeIntent{
			Operation: domain.OperationOpen, Symbol: "SOLUSDT", Direction: domain.DirectionLong, Amount: dp("500"),
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestSignalService_HandleText(t *testing.T) {
	ctx := context.Background()
	f := newSignalFixture(t, nil)

	res, err := f.svc.HandleText(ctx, "做多 BTCUSDT 入场价 90000 数量 0.5 止损 85000 杠杆10倍")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationOpen, res.Operation)
	assert.Equal(t, "BTCUSDT", res.Position.Symbol)
	assert.Equal(t, domain.DirectionLong, res.Position.Direction)
	assert.Equal(t, 10, res.Position.Leverage)
	assert.Equal(t, domain.TradeTypeMargined, res.Position.TradeType)
	require.NotNil(t, res.Position.StopLoss)
	assert.True(t, res.Position.StopLoss.Equal(d("85000")))

	_, err = f.svc.HandleText(ctx, "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSignalService_QuotedPricesSeedCache(t *testing.T) {
	ctx := context.Background()
	prices := memory.NewPriceCache()
	f := newSignalFixture(t, prices)

	opened, err := f.svc.Handle(ctx, domain.TradeIntent{
		Operation: domain.OperationOpen, Symbol: "SOLUSDT", Direction: domain.DirectionLong,
		EntryPrice: dp("150"), Quantity: dp("2"),
	})
	require.NoError(t, err)
	p, _, err := prices.GetPrice(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(d("150")))

	// A later open without a price tracks at the quoted one.
	_, err = f.svc.Handle(ctx, domain.TradeIntent{Operation: domain.OperationExit, ParentID: opened.Position.ID, ExitPrice: dp("160")})
	require.NoError(t, err)
	reopened, err := f.svc.Handle(ctx, domain.TradeIntent{
		Operation: domain.OperationOpen, Symbol: "SOLUSDT", Direction: domain.DirectionShort, Quantity: dp("1"),
	})
	require.NoError(t, err)
	assert.True(t, reopened.Position.EntryPrice.Equal(d("160")))
}
