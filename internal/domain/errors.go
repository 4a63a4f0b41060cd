package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrLockHeld         = errors.New("lock already held")
	ErrValidation       = errors.New("validation failed")
	ErrPositionOpen     = errors.New("symbol already has an open position")
	ErrPositionClosed   = errors.New("position already closed")
	ErrInsufficientData = errors.New("insufficient data to compute pnl")
	ErrZeroCostBasis    = errors.New("zero cost basis")
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrSplitOutcome     = errors.New("venue and ledger outcomes diverged")
	ErrNoReferencePrice = errors.New("no reference price")
	ErrCloseInProgress  = errors.New("closing order already sent")
)

// ValidationError describes a rejected trade intent. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for building a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Leg names one side of a composite trade operation.
type Leg string

const (
	LegVenue  Leg = "venue"
	LegLedger Leg = "ledger"
)

// LegError reports a failed external call and which leg it belongs to.
type LegError struct {
	Leg Leg
	Err error
}

func (e *LegError) Error() string { return fmt.Sprintf("%s leg: %v", e.Leg, e.Err) }

func (e *LegError) Unwrap() error { return e.Err }

// SplitOutcomeError is returned when a venue order went through but the
// position ledger could not be brought in line with it. It carries the
// identifiers needed for manual reconciliation.
type SplitOutcomeError struct {
	VenueOrderID string
	PositionID   string
	Symbol       string
	Err          error
}

func (e *SplitOutcomeError) Error() string {
	return fmt.Sprintf("split outcome: venue order %s executed for %s but position %s not reconciled: %v",
		e.VenueOrderID, e.Symbol, e.PositionID, e.Err)
}

func (e *SplitOutcomeError) Unwrap() []error { return []error{ErrSplitOutcome, e.Err} }
