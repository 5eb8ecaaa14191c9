package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker best bid and ask for a pair.
type Ticker struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

// MarketRules exchange precision and size limits for a pair.
type MarketRules struct {
	// PriceTick smallest price increment. Zero disables price rounding.
	PriceTick decimal.Decimal `json:"price_tick"`
	// AmountStep smallest quantity increment. Zero disables quantity rounding.
	AmountStep decimal.Decimal `json:"amount_step"`
	// MinAmount minimal order quantity.
	MinAmount decimal.Decimal `json:"min_amount"`
	// MinNotional minimal order value in quote currency.
	MinNotional decimal.Decimal `json:"min_notional"`
}

// PriceToPrecision rounds half-up to the nearest price tick.
func (r MarketRules) PriceToPrecision(price decimal.Decimal) decimal.Decimal {
	if !r.PriceTick.IsPositive() {
		return price
	}

	return price.Div(r.PriceTick).Round(0).Mul(r.PriceTick)
}

// AmountToPrecision truncates to the amount step.
func (r MarketRules) AmountToPrecision(qty decimal.Decimal) decimal.Decimal {
	if !r.AmountStep.IsPositive() {
		return qty
	}

	return qty.Div(r.AmountStep).Floor().Mul(r.AmountStep)
}

// OrderStatus normalized exchange order status.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderRequest market order parameters. QuoteAmount is the expected order
// value, used by venues that size market buys in quote currency.
type OrderRequest struct {
	Pair          Pair
	Quantity      decimal.Decimal
	QuoteAmount   decimal.Decimal
	ClientOrderID string
}

// OrderResult exchange view of an order.
type OrderResult struct {
	ClientOrderID string          `json:"client_order_id"`
	ExchangeID    string          `json:"exchange_id,omitempty"`
	Status        OrderStatus     `json:"status"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Filled reports whether the order is fully executed.
func (r OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}
