package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/store/filestore"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memBlobs) lines(path string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(m.objects[path]))
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func closedPosition(id string, closedAt time.Time) domain.Position {
	price := decimal.NewFromInt(100)
	return domain.Position{
		ID:         id,
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionLong,
		Quantity:   decimal.NewFromInt(1),
		EntryPrice: price,
		EntryValue: price,
		TradeType:  domain.TradeTypeSpot,
		Leverage:   1,
		Status:     domain.PositionStatusClosed,
		OpenTime:   closedAt.Add(-time.Hour),
		CloseTime:  &closedAt,
		ClosePrice: &price,
	}
}

func TestArchiveClosedPositions(t *testing.T) {
	ctx := context.Background()
	st, err := filestore.Open(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, err)

	jan := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	for _, p := range []domain.Position{
		closedPosition("a", jan),
		closedPosition("b", feb),
		closedPosition("c", mar),
	} {
		require.NoError(t, st.Create(ctx, p))
	}
	open := closedPosition("d", jan)
	open.Status, open.CloseTime, open.ClosePrice = domain.PositionStatusOpen, nil, nil
	require.NoError(t, st.Create(ctx, open))

	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, st, audit, nil)

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveClosedPositions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, blobs.lines("archive/positions/2026-01.jsonl"), 1)
	assert.Len(t, blobs.lines("archive/positions/2026-02.jsonl"), 1)
	assert.Contains(t, blobs.lines("archive/positions/2026-01.jsonl")[0], `"position_id":"a"`)
	assert.Equal(t, []string{"archive.positions"}, audit.events)

	// A rerun adds nothing and leaves the files alone.
	puts := blobs.puts
	n, err = a.ArchiveClosedPositions(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, puts, blobs.puts)
	assert.Len(t, audit.events, 1)

	// A later position in an already archived month is merged in.
	require.NoError(t, st.Create(ctx, closedPosition("e", jan.Add(24*time.Hour))))
	n, err = a.ArchiveClosedPositions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	lines := blobs.lines("archive/positions/2026-01.jsonl")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"position_id":"e"`)
}

func TestArchivePath(t *testing.T) {
	at := time.Date(2026, 7, 31, 23, 0, 0, 0, time.FixedZone("X", -3*3600))
	assert.Equal(t, "archive/positions/2026-08.jsonl", archivePath("positions", at))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x.example", normaliseEndpoint("http://x.example", true))
}
