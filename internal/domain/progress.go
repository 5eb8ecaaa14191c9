package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DealProgress live view of a running deal, published on every tick.
type DealProgress struct {
	DealID           string          `json:"deal_id"`
	BotID            string          `json:"bot_id"`
	BotName          string          `json:"bot_name"`
	Pair             string          `json:"pair"`
	Exchange         string          `json:"exchange"`
	State            string          `json:"state"`
	LastPrice        decimal.Decimal `json:"last_price"`
	Average          decimal.Decimal `json:"average"`
	Target           decimal.Decimal `json:"target"`
	ProfitPercent    decimal.Decimal `json:"profit_percent"`
	SafetyOrdersUsed int             `json:"safety_orders_used"`
	SafetyOrdersMax  int             `json:"safety_orders_max"`
	DealCount        int             `json:"deal_count"`
	DealMax          int             `json:"deal_max"`
	Pending          bool            `json:"pending"`
	Degraded         bool            `json:"degraded"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewDealProgress snapshots deal at the given market price.
func NewDealProgress(deal Deal, price decimal.Decimal, now time.Time) DealProgress {
	p := DealProgress{
		DealID:           deal.ID,
		BotID:            deal.BotID,
		BotName:          deal.BotName,
		Pair:             deal.Pair.String(),
		Exchange:         deal.Exchange,
		State:            deal.State().String(),
		LastPrice:        price,
		SafetyOrdersUsed: deal.SafetyOrdersUsed(),
		SafetyOrdersMax:  deal.MaxSafetyOrders(),
		DealCount:        deal.DealCount,
		DealMax:          deal.DealMax,
		Pending:          deal.Pending != nil,
		Degraded:         deal.Health.Degraded,
		UpdatedAt:        now,
	}

	if rung, ok := deal.CurrentRung(); ok {
		p.Average = rung.Average
		p.Target = rung.Target
		p.ProfitPercent = ProfitPercent(price, rung.Average)
	}

	return p
}
