package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// Memory is an in-process ledger sink, used when no external ledger is
// configured.
type Memory struct {
	mu          sync.Mutex
	statusField bool
	records     []domain.LedgerRecord
}

// NewMemory creates a Memory sink. statusField controls what Probe reports.
func NewMemory(statusField bool) *Memory {
	return &Memory{statusField: statusField}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Probe(context.Context) (domain.LedgerCapabilities, error) {
	return domain.LedgerCapabilities{StatusField: m.statusField}, nil
}

func (m *Memory) Append(_ context.Context, rec domain.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.RecordID == rec.RecordID {
			return fmt.Errorf("memory ledger: %s: %w", rec.RecordID, domain.ErrAlreadyExists)
		}
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, upd domain.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		r := &m.records[i]
		if r.RecordID != upd.RecordID {
			continue
		}
		if upd.Status != "" && m.statusField {
			r.Status = upd.Status
		}
		if upd.OrderID != "" {
			r.OrderID = upd.OrderID
		}
		if upd.EntryPrice != nil {
			r.Price = domain.Dec(*upd.EntryPrice)
		}
		if upd.Quantity != nil {
			r.Quantity = domain.Dec(*upd.Quantity)
		}
		return nil
	}
	return fmt.Errorf("memory ledger: %s: %w", upd.RecordID, domain.ErrNotFound)
}

// ListRecords returns records in append order.
func (m *Memory) ListRecords(_ context.Context, opts domain.ListOpts) ([]domain.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerRecord
	for _, r := range m.records {
		if opts.Since != nil && r.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !r.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var (
	_ domain.LedgerSink   = (*Memory)(nil)
	_ domain.LedgerReader = (*Memory)(nil)
)
