package costbasis

import (
	"fmt"
	"testing"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leg(id, parent string, op domain.Operation, price, qty string) domain.PositionLeg {
	l := domain.PositionLeg{ID: id, ParentID: parent, Operation: op}
	if price != "" {
		l.Price = domain.Dec(decimal.RequireFromString(price))
	}
	if qty != "" {
		l.Quantity = domain.Dec(decimal.RequireFromString(qty))
	}
	return l
}

func TestAccumulate_OpenOnly(t *testing.T) {
	b, err := Accumulate([]domain.PositionLeg{leg("p1", "", domain.OperationOpen, "90000", "1")})
	require.NoError(t, err)

	assert.True(t, b.EntryPrice.Equal(decimal.NewFromInt(90000)))
	assert.True(t, b.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, b.EntryValue.Equal(decimal.NewFromInt(90000)))
}

func TestAccumulate_OpenPlusAdd(t *testing.T) {
	b, err := Accumulate([]domain.PositionLeg{
		leg("p1", "", domain.OperationOpen, "90000", "1"),
		leg("a1", "p1", domain.OperationAdd, "88000", "1"),
	})
	require.NoError(t, err)

	assert.Equal(t, "89000", b.EntryPrice.String())
	assert.Equal(t, "2", b.Quantity.String())
	assert.Equal(t, "178000", b.EntryValue.String())
}

func TestAccumulate_WeightedAverageForManyAdds(t *testing.T) {
	prices := []int64{100, 95, 90, 120, 80, 101}
	qtys := []int64{3, 1, 2, 5, 4, 7}

	for n := 0; n < len(prices); n++ {
		t.Run(fmt.Sprintf("adds=%d", n), func(t *testing.T) {
			legs := []domain.PositionLeg{leg("root", "", domain.OperationOpen, fmt.Sprint(prices[0]), fmt.Sprint(qtys[0]))}
			num := prices[0] * qtys[0]
			den := qtys[0]
			for i := 1; i <= n && i < len(prices); i++ {
				legs = append(legs, leg(fmt.Sprintf("add-%d", i), "root", domain.OperationAdd, fmt.Sprint(prices[i]), fmt.Sprint(qtys[i])))
				num += prices[i] * qtys[i]
				den += qtys[i]
			}

			b, err := Accumulate(legs)
			require.NoError(t, err)

			want := decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), 16)
			assert.True(t, b.EntryPrice.Sub(want).Abs().LessThan(decimal.New(1, -12)),
				"entry price %s want %s", b.EntryPrice, want)
			assert.True(t, b.Quantity.Equal(decimal.NewFromInt(den)))
		})
	}
}

func TestAccumulate_SkipsIncompleteLegs(t *testing.T) {
	b, err := Accumulate([]domain.PositionLeg{
		leg("p1", "", domain.OperationOpen, "100", "2"),
		leg("a1", "p1", domain.OperationAdd, "", "5"),
		leg("a2", "p1", domain.OperationAdd, "50", ""),
		leg("a3", "p1", domain.OperationAdd, "70", "0"),
	})
	require.NoError(t, err)

	assert.Equal(t, "100", b.EntryPrice.String())
	assert.Equal(t, "2", b.Quantity.String())
	assert.Equal(t, []string{"p1"}, b.Used)
	assert.Equal(t, []string{"a1", "a2", "a3"}, b.Skipped)
}

func TestAccumulate_NoUsableLeg(t *testing.T) {
	b, err := Accumulate([]domain.PositionLeg{
		leg("p1", "", domain.OperationOpen, "", "1"),
		leg("a1", "p1", domain.OperationAdd, "10", ""),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.True(t, b.EntryPrice.IsZero())
}

func TestAccumulate_Empty(t *testing.T) {
	_, err := Accumulate(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestGroupLegs(t *testing.T) {
	legs := []domain.PositionLeg{
		leg("p1", "", domain.OperationOpen, "1", "1"),
		leg("a1", "p1", domain.OperationAdd, "1", "1"),
		leg("p2", "", domain.OperationOpen, "1", "1"),
		leg("a2", "p2", domain.OperationAdd, "1", "1"),
		leg("x1", "p1", domain.OperationExit, "1", "1"),
	}

	got := GroupLegs(legs, "p1")
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)
}

func TestApply(t *testing.T) {
	pos := domain.Position{
		ID: "p1",
		Legs: []domain.PositionLeg{
			leg("p1", "", domain.OperationOpen, "3000", "2"),
			leg("a1", "p1", domain.OperationAdd, "2900", "2"),
		},
	}

	out, err := Apply(pos)
	require.NoError(t, err)
	assert.Equal(t, "2950", out.EntryPrice.String())
	assert.Equal(t, "4", out.Quantity.String())
	assert.Equal(t, "11800", out.EntryValue.String())
}
