package dca

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/services/ladder"
)

var btcUSDT = domain.Pair{From: "BTC", To: "USDT"}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig(safetyOrders int) domain.DealConfig {
	return domain.DealConfig{
		Pair:                 btcUSDT,
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

// newTestDeal builds an open deal over the ladder calculated at 50000:
// rung 1 at 50000 (target 50500), rung 2 at 49000 (average 49494.95,
// target 49989.9), rung 3 at 48510.
func newTestDeal(t *testing.T, cfg domain.DealConfig, createdAt time.Time) domain.Deal {
	t.Helper()

	orders, err := ladder.Calculate(cfg, cfg.EntryPrice(d("50000")), domain.MarketRules{
		PriceTick:  d("0.01"),
		AmountStep: d("0.0000001"),
	})
	require.NoError(t, err)

	deal, err := domain.NewDeal("bot-1", "btc ladder", cfg, orders, 1, 3, createdAt)
	require.NoError(t, err)

	return deal
}

func fillRungs(t *testing.T, deal domain.Deal, n int, at time.Time) domain.Deal {
	t.Helper()

	for i := 0; i < n; i++ {
		next, ok := deal.NextRung()
		require.True(t, ok)

		var err error
		deal, err = Apply(deal, Decision{Action: domain.ActionBuy, OrderNo: next.OrderNo, Price: next.Price}, at)
		require.NoError(t, err)
	}

	return deal
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type journal struct {
	mu     sync.Mutex
	events []domain.DealEvent
}

func (j *journal) Append(e domain.DealEvent) error {
	j.mu.Lock()
	j.events = append(j.events, e)
	j.mu.Unlock()

	return nil
}

func (j *journal) types() []domain.DealEventType {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]domain.DealEventType, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.Type)
	}

	return out
}
