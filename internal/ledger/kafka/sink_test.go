package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func newTestSink(t *testing.T, partitions int, probeErr error) (*Sink, *fakeWriter) {
	t.Helper()
	s, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "ledger", StatusEvents: true})
	require.NoError(t, err)
	w := &fakeWriter{}
	s.writer = w
	s.probe = func(context.Context) (int, error) { return partitions, probeErr }
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, w
}

func TestNew_RequiresBrokersAndTopic(t *testing.T) {
	_, err := New(Config{Topic: "ledger"})
	assert.Error(t, err)
	_, err = New(Config{Brokers: []string{"b:9092"}})
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	s, _ := newTestSink(t, 3, nil)
	caps, err := s.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.StatusField)

	s, _ = newTestSink(t, 0, nil)
	_, err = s.Probe(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	s, _ = newTestSink(t, 0, errors.New("connection refused"))
	_, err = s.Probe(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestAppendAndUpdate(t *testing.T) {
	s, w := newTestSink(t, 1, nil)
	ctx := context.Background()

	price := decimal.RequireFromString("92000")
	require.NoError(t, s.Append(ctx, domain.LedgerRecord{
		RecordID: "x1", Operation: domain.OperationExit, PositionID: "x1", ParentID: "p1",
		Symbol: "BTCUSDT", ExitPrice: &price,
	}))
	require.NoError(t, s.UpdateStatus(ctx, domain.StatusUpdate{RecordID: "p1", Status: domain.StatusClosed}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "p1", string(w.msgs[0].Key))
	assert.Equal(t, "p1", string(w.msgs[1].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, EventRecord, ev.Type)
	require.NotNil(t, ev.Record)
	assert.True(t, ev.Record.ExitPrice.Equal(price))

	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, EventStatusUpdate, ev.Type)
	require.NotNil(t, ev.Update)
	assert.Equal(t, domain.StatusClosed, ev.Update.Status)
}

func TestAppend_WriteError(t *testing.T) {
	s, w := newTestSink(t, 1, nil)
	w.err = errors.New("broker down")
	err := s.Append(context.Background(), domain.LedgerRecord{RecordID: "p1", PositionID: "p1"})
	assert.ErrorContains(t, err, "broker down")
}
