package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderKind execution type of a ladder rung.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// ParseOrderKind accepts market/limit in any case; empty means MARKET.
func ParseOrderKind(s string) (OrderKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(OrderKindMarket):
		return OrderKindMarket, nil
	case string(OrderKindLimit):
		return OrderKindLimit, nil
	default:
		return "", fmt.Errorf("%w: unknown order type %q", ErrConfig, s)
	}
}

// DealConfig is the configuration snapshot taken when a deal is created.
// It is a value: copies are independent and nothing mutates a deal's copy.
// Exchange credentials are never part of it.
type DealConfig struct {
	Pair                 Pair            `json:"pair"`
	Exchange             string          `json:"exchange"`
	FirstOrderAmount     decimal.Decimal `json:"first_order_amount"`
	FirstOrderType       OrderKind       `json:"first_order_type"`
	FirstOrderLimitPrice decimal.Decimal `json:"first_order_limit_price"`
	SafetyOrders         int             `json:"safety_orders"`
	SafetyOrderAmount    decimal.Decimal `json:"safety_order_amount"`
	StartDistancePercent decimal.Decimal `json:"start_distance_percent"`
	StepPercent          decimal.Decimal `json:"step_percent"`
	StepMultiplier       decimal.Decimal `json:"step_multiplier"`
	SizeMultiplier       decimal.Decimal `json:"size_multiplier"`
	TakeProfitPercent    decimal.Decimal `json:"take_profit_percent"`
	Sandbox              bool            `json:"sandbox"`
	SandboxWallet        decimal.Decimal `json:"sandbox_wallet"`
}

// Validate checks the config before a deal is created.
func (c DealConfig) Validate() error {
	if c.Pair.From == "" || c.Pair.To == "" {
		return fmt.Errorf("%w: pair is required", ErrConfig)
	}
	if strings.TrimSpace(c.Exchange) == "" {
		return fmt.Errorf("%w: exchange is required", ErrConfig)
	}
	if !c.FirstOrderAmount.IsPositive() {
		return fmt.Errorf("%w: first order amount must be positive, got %s", ErrConfig, c.FirstOrderAmount)
	}

	switch c.FirstOrderType {
	case OrderKindMarket:
	case OrderKindLimit:
		if !c.FirstOrderLimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit first order requires a positive limit price", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown first order type %q", ErrConfig, c.FirstOrderType)
	}

	if c.SafetyOrders < 0 {
		return fmt.Errorf("%w: safety orders must be >= 0, got %d", ErrConfig, c.SafetyOrders)
	}
	if c.SafetyOrders > 0 {
		if !c.SafetyOrderAmount.IsPositive() {
			return fmt.Errorf("%w: safety order amount must be positive, got %s", ErrConfig, c.SafetyOrderAmount)
		}
		if !c.StartDistancePercent.IsPositive() || c.StartDistancePercent.GreaterThanOrEqual(hundred) {
			return fmt.Errorf("%w: start distance must be in (0, 100), got %s", ErrConfig, c.StartDistancePercent)
		}
	}
	if c.StepPercent.IsNegative() {
		return fmt.Errorf("%w: step percent must be >= 0, got %s", ErrConfig, c.StepPercent)
	}
	if c.StepMultiplier.IsNegative() {
		return fmt.Errorf("%w: step multiplier must be >= 0, got %s", ErrConfig, c.StepMultiplier)
	}
	if c.SizeMultiplier.IsNegative() {
		return fmt.Errorf("%w: size multiplier must be >= 0, got %s", ErrConfig, c.SizeMultiplier)
	}
	if !c.TakeProfitPercent.IsPositive() {
		return fmt.Errorf("%w: take profit must be positive, got %s", ErrConfig, c.TakeProfitPercent)
	}
	if c.Sandbox && c.SandboxWallet.IsNegative() {
		return fmt.Errorf("%w: sandbox wallet must be >= 0", ErrConfig)
	}

	return nil
}

// EntryPrice returns the base order price: the configured limit price for
// LIMIT entries, otherwise the given ask.
func (c DealConfig) EntryPrice(ask decimal.Decimal) decimal.Decimal {
	if c.FirstOrderType == OrderKindLimit {
		return c.FirstOrderLimitPrice
	}

	return ask
}
