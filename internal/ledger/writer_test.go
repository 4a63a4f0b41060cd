package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

type brokenSink struct {
	*Memory
	probeErr  error
	appendErr error
}

func (b *brokenSink) Probe(ctx context.Context) (domain.LedgerCapabilities, error) {
	if b.probeErr != nil {
		return domain.LedgerCapabilities{}, b.probeErr
	}
	return b.Memory.Probe(ctx)
}

func (b *brokenSink) Append(ctx context.Context, rec domain.LedgerRecord) error {
	if b.appendErr != nil {
		return b.appendErr
	}
	return b.Memory.Append(ctx, rec)
}

func openRecord(id string) domain.LedgerRecord {
	return domain.LedgerRecord{
		RecordID: id, Operation: domain.OperationOpen, PositionID: id,
		Symbol: "BTCUSDT", Direction: domain.DirectionLong,
		Quantity: domain.Dec(decimal.NewFromInt(1)), Price: domain.Dec(decimal.NewFromInt(90000)),
		Leverage: 10, Status: domain.StatusSignalReceived,
	}
}

func TestWriter_FullTier(t *testing.T) {
	ctx := context.Background()
	sink := NewMemory(true)
	w, err := New(ctx, sink, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, TierFull, w.Tier())

	require.NoError(t, w.Record(ctx, openRecord("p1")))
	actual := decimal.RequireFromString("90010")
	require.NoError(t, w.UpdateStatus(ctx, domain.StatusUpdate{
		RecordID: "p1", Status: domain.StatusOrderPlaced, OrderID: "o-1", EntryPrice: &actual,
	}))

	records, err := sink.ListRecords(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusOrderPlaced, records[0].Status)
	assert.Equal(t, "o-1", records[0].OrderID)
	assert.True(t, records[0].Price.Equal(actual))
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestWriter_BasicTier(t *testing.T) {
	ctx := context.Background()
	sink := NewMemory(false)
	w, err := New(ctx, sink, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, TierBasic, w.Tier())

	require.NoError(t, w.Record(ctx, openRecord("p1")))
	// Label-only updates never reach the sink on the basic tier.
	require.NoError(t, w.UpdateStatus(ctx, domain.StatusUpdate{RecordID: "missing", Status: domain.StatusClosed}))

	qty := decimal.RequireFromString("0.9")
	require.NoError(t, w.UpdateStatus(ctx, domain.StatusUpdate{RecordID: "p1", Status: domain.StatusOrderPlaced, Quantity: &qty}))

	records, err := sink.ListRecords(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Status)
	assert.True(t, records[0].Quantity.Equal(qty))
}

func TestWriter_ProbeFailure(t *testing.T) {
	_, err := New(context.Background(), &brokenSink{Memory: NewMemory(true), probeErr: domain.ErrNotFound}, 0, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWriter_AppendFailureIsWrapped(t *testing.T) {
	ctx := context.Background()
	w, err := New(ctx, &brokenSink{Memory: NewMemory(true), appendErr: errors.New("disk full")}, 0, nil)
	require.NoError(t, err)
	err = w.Record(ctx, openRecord("p1"))
	assert.ErrorContains(t, err, "disk full")
	assert.ErrorContains(t, err, "OPEN p1")
}

func TestWriter_UpdateUnknownRecord(t *testing.T) {
	ctx := context.Background()
	w, err := New(ctx, NewMemory(true), 0, nil)
	require.NoError(t, err)
	err = w.UpdateStatus(ctx, domain.StatusUpdate{RecordID: "nope", Status: domain.StatusClosed})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory_ListRecordsWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(true)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		rec := openRecord(id)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, m.Append(ctx, rec))
	}
	assert.ErrorIs(t, m.Append(ctx, openRecord("a")), domain.ErrAlreadyExists)

	since := base.Add(time.Hour)
	got, err := m.ListRecords(ctx, domain.ListOpts{Since: &since, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].RecordID)
}
