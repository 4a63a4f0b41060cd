package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// BlobStore is the object storage the archiver reads and writes.
type BlobStore interface {
	domain.BlobWriter
	domain.BlobReader
}

// Archiver copies settled positions to object storage as JSONL, one object
// per close month. Positions stay in the primary store; pruning them is a
// separate step.
type Archiver struct {
	blobs     BlobStore
	positions domain.PositionStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(blobs BlobStore, positions domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		blobs:     blobs,
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archive")),
	}
}

// ArchiveClosedPositions writes every position closed before the cutoff to
// archive/positions/YYYY-MM.jsonl, keyed by close month. Existing month files
// are merged by position ID, so reruns do not duplicate lines. It returns the
// number of positions newly archived.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	closed, err := a.positions.ListByStatus(ctx, domain.PositionStatusClosed, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}

	byMonth := make(map[string][]domain.Position)
	for _, p := range closed {
		if p.CloseTime == nil || !p.CloseTime.Before(before) {
			continue
		}
		path := archivePath("positions", *p.CloseTime)
		byMonth[path] = append(byMonth[path], p)
	}

	paths := make([]string, 0, len(byMonth))
	for path := range byMonth {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var total int64
	for _, path := range paths {
		added, err := a.archiveMonth(ctx, path, byMonth[path])
		if err != nil {
			return total, err
		}
		total += added
	}

	if total > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.positions", map[string]any{
			"paths":  paths,
			"count":  total,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive positions audit log: %w", err)
		}
	}
	a.logger.InfoContext(ctx, "archive: closed positions archived",
		slog.Int64("count", total),
		slog.Int("files", len(paths)),
		slog.String("before", before.Format(time.RFC3339)),
	)
	return total, nil
}

func (a *Archiver) archiveMonth(ctx context.Context, path string, fresh []domain.Position) (int64, error) {
	existing, err := a.load(ctx, path)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.ID] = true
	}

	merged := existing
	var added int64
	for _, p := range fresh {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		merged = append(merged, p)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CloseTime.Before(*merged[j].CloseTime)
	})

	buf, err := marshalJSONL(merged)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", path, err)
	}
	if len(buf) > multipartThreshold {
		err = a.blobs.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.blobs.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", path, err)
	}
	return added, nil
}

// load reads an existing archive file. A missing file is empty.
func (a *Archiver) load(ctx context.Context, path string) ([]domain.Position, error) {
	ok, err := a.blobs.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	body, err := a.blobs.Get(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer body.Close()

	out, err := unmarshalJSONL(body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive %s decode: %w", path, err)
	}
	return out, nil
}

// archivePath builds the key for a month's archive file, e.g.
// archive/positions/2026-01.jsonl.
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.UTC().Format("2006-01"))
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalJSONL(r io.Reader) ([]domain.Position, error) {
	var out []domain.Position
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var p domain.Position
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("jsonl line %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, sc.Err()
}

var _ domain.Archiver = (*Archiver)(nil)
