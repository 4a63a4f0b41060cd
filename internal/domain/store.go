package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Implementations hold no locks across
// calls; callers serialize read-modify-write cycles.
type PositionStore interface {
	// Create inserts a new record. It returns ErrAlreadyExists on an ID
	// collision.
	Create(ctx context.Context, pos Position) error
	// Save replaces the full record. It returns ErrNotFound for unknown IDs.
	Save(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// FindBySymbol returns the first record with the given symbol and status,
	// or ErrNotFound.
	FindBySymbol(ctx context.Context, symbol string, status PositionStatus) (Position, error)
	ListByStatus(ctx context.Context, status PositionStatus, opts ListOpts) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
