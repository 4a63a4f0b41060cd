// Package costbasis computes the weighted-average entry price of a position
// group from its OPEN and ADD legs.
package costbasis

import (
	"fmt"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrInsufficientData is returned when no leg carries both a price and a
// positive quantity.
var ErrInsufficientData = fmt.Errorf("costbasis: no leg with usable price and quantity: %w", domain.ErrInsufficientData)

// Basis is the accumulated cost basis of a position group.
type Basis struct {
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	EntryValue decimal.Decimal
	// Used and Skipped list leg IDs that were and were not counted.
	Used    []string
	Skipped []string
}

// Accumulate computes entry_price = Σ(p·q)/Σq and quantity = Σq over legs.
// Legs with a missing price, or a missing or non-positive quantity, are
// excluded from both sums.
func Accumulate(legs []domain.PositionLeg) (Basis, error) {
	var (
		b        Basis
		notional = decimal.Zero
		qty      = decimal.Zero
	)
	for _, leg := range legs {
		if leg.Price == nil || leg.Quantity == nil || !leg.Quantity.IsPositive() || leg.Price.IsNegative() {
			b.Skipped = append(b.Skipped, leg.ID)
			continue
		}
		notional = notional.Add(leg.Price.Mul(*leg.Quantity))
		qty = qty.Add(*leg.Quantity)
		b.Used = append(b.Used, leg.ID)
	}
	if len(b.Used) == 0 {
		return b, ErrInsufficientData
	}

	b.Quantity = qty
	b.EntryPrice = notional.DivRound(qty, 16)
	b.EntryValue = b.EntryPrice.Mul(qty)
	if b.EntryPrice.IsZero() {
		return b, fmt.Errorf("costbasis: accumulated entry price is zero: %w", domain.ErrInsufficientData)
	}
	return b, nil
}

// GroupLegs selects the legs that belong to the position group rooted at
// rootID: the OPEN leg whose own ID is rootID and every ADD leg whose parent
// is rootID. Order is preserved.
func GroupLegs(legs []domain.PositionLeg, rootID string) []domain.PositionLeg {
	var out []domain.PositionLeg
	for _, leg := range legs {
		switch {
		case leg.Operation == domain.OperationOpen && leg.ID == rootID:
			out = append(out, leg)
		case leg.Operation == domain.OperationAdd && leg.ParentID == rootID:
			out = append(out, leg)
		}
	}
	return out
}

// Apply recomputes a position's quantity, entry price and entry value from
// its own legs. The position is returned unchanged alongside the error when
// the legs are unusable.
func Apply(pos domain.Position) (domain.Position, error) {
	b, err := Accumulate(GroupLegs(pos.Legs, pos.ID))
	if err != nil {
		return pos, fmt.Errorf("costbasis: position %s: %w", pos.ID, err)
	}
	pos.Quantity = b.Quantity
	pos.EntryPrice = b.EntryPrice
	pos.EntryValue = b.EntryValue
	return pos, nil
}
