package ladder

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

// Summary aggregate figures of a ladder.
type Summary struct {
	Orders              int
	FirstPrice          decimal.Decimal
	LowestPrice         decimal.Decimal
	MaxFunds            decimal.Decimal
	MaxDeviationPercent decimal.Decimal
}

// Summarize returns the funds needed to fill every rung and how far the
// ladder reaches below the base order.
func Summarize(orders []domain.OrderPlan) Summary {
	if len(orders) == 0 {
		return Summary{}
	}

	first, last := orders[0], orders[len(orders)-1]

	return Summary{
		Orders:              len(orders),
		FirstPrice:          first.Price,
		LowestPrice:         last.Price,
		MaxFunds:            last.AmountSum,
		MaxDeviationPercent: Deviation(first.Price, last.Price),
	}
}

// Deviation percentage difference |a-b| / ((a+b)/2) * 100, two decimals.
func Deviation(a, b decimal.Decimal) decimal.Decimal {
	mean := a.Add(b).Div(decimal.NewFromInt(2))
	if mean.IsZero() {
		return decimal.Zero
	}

	return a.Sub(b).Abs().Div(mean).Mul(hundred).Round(2)
}

// HasEnoughFunds reports whether balance covers every rung.
func HasEnoughFunds(orders []domain.OrderPlan, balance decimal.Decimal) bool {
	return balance.GreaterThanOrEqual(Summarize(orders).MaxFunds)
}
