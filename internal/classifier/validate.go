package classifier

import (
	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Validate checks the structural prerequisites of op. It does not look up
// the parent position; association is the caller's job.
//
//	OPEN: symbol, direction, entry price or amount
//	ADD:  entry price or amount, quantity, parent reference
//	EXIT: exit price, parent reference
func Validate(intent domain.TradeIntent, op domain.Operation) error {
	switch op {
	case domain.OperationOpen:
		if intent.Symbol == "" {
			return domain.Invalid("symbol", "required for OPEN")
		}
		if !intent.Direction.Valid() {
			return domain.Invalid("direction", "must be LONG or SHORT")
		}
		if intent.EntryPrice == nil && intent.Amount == nil {
			return domain.Invalid("entry_price", "entry price or amount required for OPEN")
		}
		if intent.ParentID != "" {
			return domain.Invalid("parent_order_id", "must be empty for OPEN")
		}
	case domain.OperationAdd:
		if intent.EntryPrice == nil && intent.Amount == nil {
			return domain.Invalid("entry_price", "entry price or amount required for ADD")
		}
		if intent.Quantity == nil {
			return domain.Invalid("quantity", "required for ADD")
		}
		if intent.ParentID == "" {
			return domain.Invalid("parent_order_id", "required for ADD")
		}
	case domain.OperationExit:
		if intent.ExitPrice == nil {
			return domain.Invalid("exit_price", "required for EXIT")
		}
		if intent.ParentID == "" {
			return domain.Invalid("parent_order_id", "required for EXIT")
		}
	default:
		return domain.Invalid("operation", "unknown operation "+string(op))
	}

	for _, f := range []struct {
		name string
		v    *decimal.Decimal
	}{
		{"entry_price", intent.EntryPrice},
		{"exit_price", intent.ExitPrice},
		{"amount", intent.Amount},
		{"quantity", intent.Quantity},
		{"take_profit_price", intent.TakeProfit},
		{"stop_loss_price", intent.StopLoss},
	} {
		if f.v != nil && !f.v.IsPositive() {
			return domain.Invalid(f.name, "must be positive")
		}
	}
	if intent.Leverage != nil && *intent.Leverage < 1 {
		return domain.Invalid("leverage", "must be at least 1")
	}
	return nil
}
