package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/services/ladder"
)

func TestLadder_RendersEveryRung(t *testing.T) {
	cfg := domain.DealConfig{
		Pair:                 domain.Pair{From: "BTC", To: "USDT"},
		Exchange:             "binance",
		FirstOrderAmount:     decimal.NewFromInt(50),
		FirstOrderType:       domain.OrderKindMarket,
		SafetyOrders:         2,
		SafetyOrderAmount:    decimal.NewFromInt(100),
		StartDistancePercent: decimal.NewFromInt(2),
		StepPercent:          decimal.NewFromInt(1),
		StepMultiplier:       decimal.NewFromInt(1),
		SizeMultiplier:       decimal.Zero,
		TakeProfitPercent:    decimal.NewFromInt(1),
	}
	rules := domain.MarketRules{
		PriceTick:  decimal.RequireFromString("0.01"),
		AmountStep: decimal.RequireFromString("0.000001"),
	}

	orders, err := ladder.Calculate(cfg, decimal.NewFromInt(50000), rules)
	require.NoError(t, err)

	out := Ladder("BTC_USDT ladder", orders)

	assert.Contains(t, out, "BTC_USDT ladder")
	assert.Contains(t, out, "50000")
	assert.Contains(t, out, "49000")
	assert.Contains(t, out, "Orders: 3")
	assert.Contains(t, out, "Max funds: "+orders[2].AmountSum.String())
}

func TestFundsWarning(t *testing.T) {
	assert.Empty(t, FundsWarning(decimal.NewFromInt(500), decimal.NewFromInt(500)))

	out := FundsWarning(decimal.NewFromInt(100), decimal.NewFromInt(500))
	assert.Contains(t, out, InsufficientFunds)
	assert.Contains(t, out, "required 500")
}

func TestHistory_TotalsProfit(t *testing.T) {
	closed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.DealSummary{
		{DealID: "BTC_USDT-1", BotName: "btc", Pair: "BTC_USDT", CreatedAt: closed.Add(-time.Hour), ClosedAt: closed,
			SafetyOrdersUsed: 1, SafetyOrdersMax: 3, ProfitPercent: decimal.RequireFromString("1.02"), Profit: decimal.RequireFromString("1.53")},
		{DealID: "BTC_USDT-2", BotName: "btc", Pair: "BTC_USDT", CreatedAt: closed.Add(-2 * time.Hour), ClosedAt: closed.Add(-time.Minute),
			SafetyOrdersUsed: 0, SafetyOrdersMax: 3, ProfitPercent: decimal.RequireFromString("1.00"), Profit: decimal.RequireFromString("0.50")},
	}

	out := History(rows)

	assert.Contains(t, out, "BTC_USDT-1")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "Closed deals: 2")
	assert.Contains(t, out, "Total profit: 2.03")
}
