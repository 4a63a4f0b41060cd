package settlement

import (
	"errors"
	"sort"

	"github.com/alanyoungcy/positionbot/internal/costbasis"
	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Group is one position group in a batch report: its entry legs and, when
// settled, the exit price.
type Group struct {
	PositionID  string
	Symbol      string
	Direction   domain.Direction
	Leverage    int
	Legs        []domain.PositionLeg
	ExitPrice   *decimal.Decimal
	CloseReason domain.CloseReason
}

// GroupResult is the per-group line of a Report.
type GroupResult struct {
	PositionID  string             `json:"position_id"`
	Symbol      string             `json:"symbol"`
	Direction   domain.Direction   `json:"direction"`
	CloseReason domain.CloseReason `json:"close_reason,omitempty"`
	Settlement  *domain.Settlement `json:"settlement,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Report aggregates PnL across position groups.
type Report struct {
	Groups          []GroupResult   `json:"groups"`
	Settled         int             `json:"settled"`
	Skipped         int             `json:"skipped"`
	TotalPoints     decimal.Decimal `json:"total_points"`
	TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
	TotalActualPnL  decimal.Decimal `json:"total_actual_profit_loss"`
	// CapitalDeployed is Σ(entry_value / leverage), the unleveraged margin.
	CapitalDeployed decimal.Decimal `json:"capital_deployed"`
	// AggregatePercent is TotalActualPnL / CapitalDeployed * 100.
	AggregatePercent decimal.Decimal `json:"aggregate_percent"`
}

// Aggregate settles every group and sums the results. Groups that cannot be
// settled (open, missing data, zero basis) are listed with an error and left
// out of the totals.
func Aggregate(groups []Group) Report {
	r := Report{
		Groups:           make([]GroupResult, 0, len(groups)),
		TotalPoints:      decimal.Zero,
		TotalProfitLoss:  decimal.Zero,
		TotalActualPnL:   decimal.Zero,
		CapitalDeployed:  decimal.Zero,
		AggregatePercent: decimal.Zero,
	}

	for _, g := range groups {
		line := GroupResult{
			PositionID:  g.PositionID,
			Symbol:      g.Symbol,
			Direction:   g.Direction,
			CloseReason: g.CloseReason,
		}
		s, err := settleGroup(g)
		if err != nil {
			line.Error = err.Error()
			r.Skipped++
			r.Groups = append(r.Groups, line)
			continue
		}
		line.Settlement = &s
		r.Settled++
		r.Groups = append(r.Groups, line)

		r.TotalPoints = r.TotalPoints.Add(s.SignedPoints)
		r.TotalProfitLoss = r.TotalProfitLoss.Add(s.ProfitLoss)
		r.TotalActualPnL = r.TotalActualPnL.Add(s.ActualProfitLoss)
		r.CapitalDeployed = r.CapitalDeployed.Add(s.EntryValue.Div(decimal.NewFromInt(int64(s.Leverage))))
	}

	if r.CapitalDeployed.IsPositive() {
		r.AggregatePercent = r.TotalActualPnL.Div(r.CapitalDeployed).Mul(hundred).Round(percentScale)
	}
	return r
}

var errNotSettled = errors.New("settlement: group has no exit")

func settleGroup(g Group) (domain.Settlement, error) {
	if g.ExitPrice == nil {
		return domain.Settlement{}, errNotSettled
	}
	b, err := costbasis.Accumulate(costbasis.GroupLegs(g.Legs, g.PositionID))
	if err != nil {
		return domain.Settlement{}, err
	}
	return Settle(Input{
		EntryPrice: b.EntryPrice,
		Quantity:   b.Quantity,
		Direction:  g.Direction,
		ExitPrice:  *g.ExitPrice,
		Leverage:   g.Leverage,
	})
}

// FromPositions turns closed positions into report groups.
func FromPositions(positions []domain.Position) []Group {
	groups := make([]Group, 0, len(positions))
	for _, p := range positions {
		legs := p.Legs
		if len(legs) == 0 {
			// Records created before legs were tracked carry only the
			// aggregate basis.
			legs = []domain.PositionLeg{{
				ID:        p.ID,
				Operation: domain.OperationOpen,
				Price:     domain.Dec(p.EntryPrice),
				Quantity:  domain.Dec(p.Quantity),
			}}
		}
		groups = append(groups, Group{
			PositionID:  p.ID,
			Symbol:      p.Symbol,
			Direction:   p.Direction,
			Leverage:    p.Leverage,
			Legs:        legs,
			ExitPrice:   p.ClosePrice,
			CloseReason: p.CloseReason,
		})
	}
	return groups
}

// GroupRecords rebuilds position groups from raw ledger records. OPEN records
// root a group under their own position ID; ADD and EXIT records join the
// group named by their parent ID. Records whose parent never opened are
// dropped. Groups are returned in order of their OPEN record's creation time.
func GroupRecords(records []domain.LedgerRecord) []Group {
	byID := make(map[string]*Group)
	var order []string
	var opened = make(map[string]int64)

	for _, rec := range records {
		if rec.Operation != domain.OperationOpen {
			continue
		}
		if _, ok := byID[rec.PositionID]; ok {
			continue
		}
		byID[rec.PositionID] = &Group{
			PositionID: rec.PositionID,
			Symbol:     rec.Symbol,
			Direction:  rec.Direction,
			Leverage:   rec.Leverage,
			Legs: []domain.PositionLeg{{
				ID:        rec.PositionID,
				Operation: domain.OperationOpen,
				Price:     rec.Price,
				Quantity:  rec.Quantity,
				At:        rec.CreatedAt,
			}},
		}
		order = append(order, rec.PositionID)
		opened[rec.PositionID] = rec.CreatedAt.UnixNano()
	}

	for _, rec := range records {
		g, ok := byID[rec.ParentID]
		if !ok {
			continue
		}
		switch rec.Operation {
		case domain.OperationAdd:
			g.Legs = append(g.Legs, domain.PositionLeg{
				ID:        rec.PositionID,
				ParentID:  rec.ParentID,
				Operation: domain.OperationAdd,
				Price:     rec.Price,
				Quantity:  rec.Quantity,
				At:        rec.CreatedAt,
			})
		case domain.OperationExit:
			exit := rec.ExitPrice
			if exit == nil {
				exit = rec.Price
			}
			g.ExitPrice = exit
			g.CloseReason = rec.CloseReason
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return opened[order[i]] < opened[order[j]] })
	out := make([]Group, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}
