// Package settlement computes realized, leverage-adjusted PnL for closed
// positions and aggregates it across position groups for reconciliation
// reports.
package settlement

import (
	"fmt"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/shopspring/decimal"
)

// percentScale is the number of decimal places kept on percentage figures.
const percentScale = 8

var (
	ErrZeroCostBasis    = fmt.Errorf("settlement: entry price is zero: %w", domain.ErrZeroCostBasis)
	ErrInsufficientData = fmt.Errorf("settlement: %w", domain.ErrInsufficientData)
)

var hundred = decimal.NewFromInt(100)

// Input is everything needed to settle one position group.
type Input struct {
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	Direction  domain.Direction
	ExitPrice  decimal.Decimal
	Leverage   int
}

// Settle computes point-wise, monetary and percentage PnL for a position.
//
//	signed      = exit - entry   (LONG)
//	            = entry - exit   (SHORT)
//	pl          = signed * quantity
//	pl%         = signed / entry * 100
//	actual      = pl  * leverage
//	actual%     = pl% * leverage
func Settle(in Input) (domain.Settlement, error) {
	if !in.Direction.Valid() {
		return domain.Settlement{}, fmt.Errorf("settlement: unknown direction %q: %w", in.Direction, domain.ErrInsufficientData)
	}
	if in.EntryPrice.IsZero() {
		return domain.Settlement{}, ErrZeroCostBasis
	}
	if in.EntryPrice.IsNegative() || in.ExitPrice.IsNegative() {
		return domain.Settlement{}, fmt.Errorf("settlement: negative price: %w", domain.ErrInsufficientData)
	}
	if !in.Quantity.IsPositive() {
		return domain.Settlement{}, fmt.Errorf("settlement: quantity must be positive: %w", domain.ErrInsufficientData)
	}
	leverage := in.Leverage
	if leverage < 1 {
		leverage = 1
	}
	lev := decimal.NewFromInt(int64(leverage))

	signed := in.ExitPrice.Sub(in.EntryPrice)
	if in.Direction == domain.DirectionShort {
		signed = in.EntryPrice.Sub(in.ExitPrice)
	}

	pl := signed.Mul(in.Quantity)
	pct := signed.Div(in.EntryPrice).Mul(hundred).Round(percentScale)

	return domain.Settlement{
		EntryPrice:              in.EntryPrice,
		ExitPrice:               in.ExitPrice,
		Quantity:                in.Quantity,
		Leverage:                leverage,
		SignedPoints:            signed,
		ProfitLoss:              pl,
		ProfitLossPercent:       pct,
		ActualProfitLoss:        pl.Mul(lev),
		ActualProfitLossPercent: pct.Mul(lev),
		EntryValue:              in.EntryPrice.Mul(in.Quantity),
		CloseValue:              in.ExitPrice.Mul(in.Quantity),
	}, nil
}

// ForPosition settles an open position at exitPrice.
func ForPosition(pos domain.Position, exitPrice decimal.Decimal) (domain.Settlement, error) {
	s, err := Settle(Input{
		EntryPrice: pos.EntryPrice,
		Quantity:   pos.Quantity,
		Direction:  pos.Direction,
		ExitPrice:  exitPrice,
		Leverage:   pos.Leverage,
	})
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("settlement: position %s: %w", pos.ID, err)
	}
	return s, nil
}

// ApplyClose copies a settlement onto a position. It does not change Status;
// the caller owns the state transition.
func ApplyClose(pos domain.Position, s domain.Settlement) domain.Position {
	pos.ClosePrice = domain.Dec(s.ExitPrice)
	pos.CloseValue = domain.Dec(s.CloseValue)
	pos.ProfitLoss = domain.Dec(s.ProfitLoss)
	pos.ProfitLossPercent = domain.Dec(s.ProfitLossPercent)
	pos.ActualProfitLoss = domain.Dec(s.ActualProfitLoss)
	pos.ActualProfitLossPercent = domain.Dec(s.ActualProfitLossPercent)
	return pos
}
