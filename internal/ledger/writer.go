// Package ledger writes reconciliation records to the external audit ledger.
//
// The sink is probed once when the Writer is built. A sink that stores a
// status label gets the full tier: records carry their label and status
// updates flip it. Any other sink gets the basic tier, where labels are
// dropped and status updates only carry venue-confirmed actuals.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// Tier is the write strategy chosen at startup.
type Tier int

const (
	TierBasic Tier = iota
	TierFull
)

func (t Tier) String() string {
	if t == TierFull {
		return "full"
	}
	return "basic"
}

// Writer records ledger events through a probed sink.
type Writer struct {
	sink    domain.LedgerSink
	tier    Tier
	timeout time.Duration
	logger  *slog.Logger
}

// New probes sink and returns a Writer bound to the matching tier. A failed
// probe is returned to the caller; no tier is guessed.
func New(ctx context.Context, sink domain.LedgerSink, timeout time.Duration, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "ledger"))

	probeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	caps, err := sink.Probe(probeCtx)
	if err != nil {
		return nil, fmt.Errorf("ledger: probe %s: %w", sink.Name(), err)
	}

	w := &Writer{sink: sink, tier: TierBasic, timeout: timeout, logger: logger}
	if caps.StatusField {
		w.tier = TierFull
	}
	logger.InfoContext(ctx, "ledger: sink ready",
		slog.String("sink", sink.Name()),
		slog.String("tier", w.tier.String()),
	)
	return w, nil
}

// Tier reports the write strategy picked by the probe.
func (w *Writer) Tier() Tier { return w.tier }

// Sink returns the underlying sink.
func (w *Writer) Sink() domain.LedgerSink { return w.sink }

// Reader returns the sink as a LedgerReader when it supports reads.
func (w *Writer) Reader() (domain.LedgerReader, bool) {
	r, ok := w.sink.(domain.LedgerReader)
	return r, ok
}

func (w *Writer) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.timeout)
}

// Record appends one OPEN, ADD or EXIT record.
func (w *Writer) Record(ctx context.Context, rec domain.LedgerRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if w.tier == TierBasic {
		rec.Status = ""
	}

	ctx, cancel := w.bounded(ctx)
	defer cancel()
	if err := w.sink.Append(ctx, rec); err != nil {
		w.logger.WarnContext(ctx, "ledger: append failed",
			slog.String("record_id", rec.RecordID),
			slog.String("operation", string(rec.Operation)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ledger: record %s %s: %w", rec.Operation, rec.RecordID, err)
	}
	return nil
}

// UpdateStatus applies upd. On the basic tier the label is dropped and an
// update with nothing else to carry is skipped.
func (w *Writer) UpdateStatus(ctx context.Context, upd domain.StatusUpdate) error {
	if w.tier == TierBasic {
		upd.Status = ""
		if upd.OrderID == "" && upd.EntryPrice == nil && upd.Quantity == nil {
			return nil
		}
	}

	ctx, cancel := w.bounded(ctx)
	defer cancel()
	if err := w.sink.UpdateStatus(ctx, upd); err != nil {
		w.logger.WarnContext(ctx, "ledger: status update failed",
			slog.String("record_id", upd.RecordID),
			slog.String("status", string(upd.Status)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ledger: update %s: %w", upd.RecordID, err)
	}
	return nil
}
