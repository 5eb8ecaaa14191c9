package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DealSummary history row of a closed deal.
type DealSummary struct {
	DealID           string          `json:"deal_id"`
	BotID            string          `json:"bot_id"`
	BotName          string          `json:"bot_name"`
	Pair             string          `json:"pair"`
	CreatedAt        time.Time       `json:"created_at"`
	ClosedAt         time.Time       `json:"closed_at"`
	SafetyOrdersUsed int             `json:"safety_orders_used"`
	SafetyOrdersMax  int             `json:"safety_orders_max"`
	ProfitPercent    decimal.Decimal `json:"profit_percent"`
	Profit           decimal.Decimal `json:"profit"`
}

// Summarize builds history rows for closed deals, newest close first.
// Open deals are skipped.
func Summarize(deals []Deal) []DealSummary {
	rows := make([]DealSummary, 0, len(deals))
	for _, d := range deals {
		if d.Status != DealStatusClosed || d.Sell == nil {
			continue
		}

		profit := decimal.Zero
		if rung, ok := d.CurrentRung(); ok {
			profit = rung.AmountSum.Mul(d.Sell.ProfitPercent).Div(hundred).Round(2)
		}

		rows = append(rows, DealSummary{
			DealID:           d.ID,
			BotID:            d.BotID,
			BotName:          d.BotName,
			Pair:             d.Pair.String(),
			CreatedAt:        d.CreatedAt,
			ClosedAt:         d.Sell.Date,
			SafetyOrdersUsed: d.SafetyOrdersUsed(),
			SafetyOrdersMax:  d.MaxSafetyOrders(),
			ProfitPercent:    d.Sell.ProfitPercent,
			Profit:           profit,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ClosedAt.After(rows[j].ClosedAt)
	})

	return rows
}
