package ladder

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testRules() domain.MarketRules {
	return domain.MarketRules{
		PriceTick:  d("0.01"),
		AmountStep: d("0.0000001"),
	}
}

func testConfig(safetyOrders int) domain.DealConfig {
	return domain.DealConfig{
		Pair:                 domain.Pair{From: "BTC", To: "USDT"},
		Exchange:             "binance",
		FirstOrderAmount:     d("100"),
		FirstOrderType:       domain.OrderKindMarket,
		SafetyOrders:         safetyOrders,
		SafetyOrderAmount:    d("100"),
		StartDistancePercent: d("2"),
		StepPercent:          d("1"),
		StepMultiplier:       d("1"),
		SizeMultiplier:       d("1"),
		TakeProfitPercent:    d("1"),
	}
}

func TestCalculate_BaseAndFirstSafetyOrder(t *testing.T) {
	orders, err := Calculate(testConfig(1), d("50000"), testRules())
	require.NoError(t, err)
	require.Len(t, orders, 2)

	base := orders[0]
	require.Equal(t, 1, base.OrderNo)
	require.True(t, base.Quantity.Equal(d("0.002")), base.Quantity.String())
	require.True(t, base.Price.Equal(d("50000")))
	require.True(t, base.Average.Equal(d("50000")))
	require.True(t, base.Target.Equal(d("50500")), base.Target.String())
	require.True(t, base.AmountSum.Equal(d("100")))
	require.Equal(t, domain.OrderKindMarket, base.Kind)
	require.False(t, base.Filled)

	safety := orders[1]
	require.Equal(t, 2, safety.OrderNo)
	require.True(t, safety.Price.Equal(d("49000")), safety.Price.String())
	require.True(t, safety.Quantity.Equal(d("0.0020408")), safety.Quantity.String())
	require.True(t, safety.Amount.Equal(d("99.9992")), safety.Amount.String())
	require.True(t, safety.AmountSum.Equal(d("199.9992")), safety.AmountSum.String())
	require.True(t, safety.QuantitySum.Equal(d("0.0040408")), safety.QuantitySum.String())
	require.True(t, safety.Average.Equal(d("49494.95")), safety.Average.String())
	require.True(t, safety.Target.Equal(d("49989.9")), safety.Target.String())
}

func TestCalculate_RungCountAndDenseNumbering(t *testing.T) {
	for _, n := range []int{0, 1, 5, 12} {
		orders, err := Calculate(testConfig(n), d("50000"), testRules())
		require.NoError(t, err)
		require.Len(t, orders, n+1)

		for i, o := range orders {
			require.Equal(t, i+1, o.OrderNo)
		}
	}
}

func TestCalculate_AverageAndTargetIdentities(t *testing.T) {
	rules := testRules()
	tp := d("1.01")

	orders, err := Calculate(testConfig(8), d("50000"), rules)
	require.NoError(t, err)

	for _, o := range orders {
		exact := o.AmountSum.Div(o.QuantitySum)
		require.True(t, o.Average.Sub(exact).Abs().LessThanOrEqual(rules.PriceTick),
			"order %d average %s vs %s", o.OrderNo, o.Average, exact)
		require.True(t, o.Target.Equal(rules.PriceToPrecision(o.Average.Mul(tp))),
			"order %d target %s", o.OrderNo, o.Target)
	}
}

func TestCalculate_PricesDescendAndQuantityGrowthRule(t *testing.T) {
	rules := testRules()

	orders, err := Calculate(testConfig(3), d("50000"), rules)
	require.NoError(t, err)

	require.True(t, orders[2].Price.Equal(d("48510")), orders[2].Price.String())
	require.True(t, orders[2].Quantity.Equal(d("0.004102")), orders[2].Quantity.String())

	for k := 2; k < len(orders); k++ {
		prev := orders[k-1]
		want := rules.AmountToPrecision(prev.Quantity.Mul(d("1.01")).Add(prev.Quantity.Mul(d("1"))))
		require.True(t, orders[k].Quantity.Equal(want), "order %d", orders[k].OrderNo)
		require.True(t, orders[k].Price.LessThan(prev.Price))
	}
}

func TestCalculate_StepMultiplierWidensDistance(t *testing.T) {
	cfg := testConfig(2)
	cfg.StepMultiplier = d("2")

	orders, err := Calculate(cfg, d("50000"), testRules())
	require.NoError(t, err)
	require.True(t, orders[2].Price.Equal(d("48020")), orders[2].Price.String())
}

func TestCalculate_LimitEntryKeepsKind(t *testing.T) {
	cfg := testConfig(1)
	cfg.FirstOrderType = domain.OrderKindLimit
	cfg.FirstOrderLimitPrice = d("45000")

	orders, err := Calculate(cfg, cfg.EntryPrice(d("50000")), testRules())
	require.NoError(t, err)
	require.Equal(t, domain.OrderKindLimit, orders[0].Kind)
	require.True(t, orders[0].Price.Equal(d("45000")))
	require.Equal(t, domain.OrderKindMarket, orders[1].Kind)
}

func TestCalculate_Deterministic(t *testing.T) {
	a, err := Calculate(testConfig(6), d("123.4567"), testRules())
	require.NoError(t, err)
	b, err := Calculate(testConfig(6), d("123.4567"), testRules())
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCalculate_InvalidOrderSize(t *testing.T) {
	rules := domain.MarketRules{PriceTick: d("0.01"), AmountStep: d("0.01")}

	_, err := Calculate(testConfig(1), d("50000"), rules)
	require.ErrorIs(t, err, domain.ErrInvalidOrderSize)

	rules = testRules()
	rules.MinAmount = d("0.01")
	_, err = Calculate(testConfig(1), d("50000"), rules)
	require.ErrorIs(t, err, domain.ErrInvalidOrderSize)

	rules = testRules()
	rules.MinNotional = d("150")
	_, err = Calculate(testConfig(1), d("50000"), rules)
	require.ErrorIs(t, err, domain.ErrInvalidOrderSize)
}

func TestCalculate_InvalidConfig(t *testing.T) {
	cfg := testConfig(1)
	cfg.Pair = domain.Pair{}
	_, err := Calculate(cfg, d("50000"), testRules())
	require.ErrorIs(t, err, domain.ErrConfig)

	_, err = Calculate(testConfig(1), decimal.Zero, testRules())
	require.ErrorIs(t, err, domain.ErrConfig)

	cfg = testConfig(2)
	cfg.StepPercent = d("60")
	cfg.StepMultiplier = d("2")
	_, err = Calculate(cfg, d("50000"), testRules())
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestSummarize(t *testing.T) {
	orders, err := Calculate(testConfig(1), d("50000"), testRules())
	require.NoError(t, err)

	s := Summarize(orders)
	require.Equal(t, 2, s.Orders)
	require.True(t, s.MaxFunds.Equal(d("199.9992")))
	require.True(t, s.LowestPrice.Equal(d("49000")))
	require.True(t, s.MaxDeviationPercent.Equal(d("2.02")), s.MaxDeviationPercent.String())

	require.True(t, HasEnoughFunds(orders, d("200")))
	require.False(t, HasEnoughFunds(orders, d("199")))
	require.Equal(t, Summary{}, Summarize(nil))
}

func TestDeviation(t *testing.T) {
	require.True(t, Deviation(d("110"), d("90")).Equal(d("20")))
	require.True(t, Deviation(d("90"), d("110")).Equal(d("20")))
	require.True(t, Deviation(decimal.Zero, decimal.Zero).IsZero())
}
