// Package ladder calculates the fixed plan of buy orders of a DCA deal.
package ladder

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Calculate builds the ladder for cfg starting at entryPrice. Every
// intermediate value is rounded through rules before it feeds the next rung,
// so rounding error compounds forward exactly as the exchange would see it.
//
// Rung 1 is the base order. Rung 2 sits StartDistancePercent below it; every
// further rung sits StepPercent*StepMultiplier below its predecessor and
// grows its quantity by prevQty*(1+StepPercent/100) + prevQty*SizeMultiplier.
func Calculate(cfg domain.DealConfig, entryPrice decimal.Decimal, rules domain.MarketRules) ([]domain.OrderPlan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !entryPrice.IsPositive() {
		return nil, errors.Wrapf(domain.ErrConfig, "entry price must be positive, got %s", entryPrice)
	}

	takeProfit := decimal.NewFromInt(1).Add(cfg.TakeProfitPercent.Div(hundred))
	startDrop := decimal.NewFromInt(1).Sub(cfg.StartDistancePercent.Div(hundred))
	stepDrop := decimal.NewFromInt(1).Sub(cfg.StepPercent.Mul(cfg.StepMultiplier).Div(hundred))
	stepGrowth := decimal.NewFromInt(1).Add(cfg.StepPercent.Div(hundred))

	orders := make([]domain.OrderPlan, 0, cfg.SafetyOrders+1)

	price := rules.PriceToPrecision(entryPrice)
	qty := rules.AmountToPrecision(cfg.FirstOrderAmount.Div(price))
	if err := checkSize(1, qty, price, rules); err != nil {
		return nil, err
	}
	amount := rules.PriceToPrecision(price.Mul(qty))

	orders = append(orders, domain.OrderPlan{
		OrderNo:     1,
		Price:       price,
		Average:     price,
		Target:      rules.PriceToPrecision(price.Mul(takeProfit)),
		Quantity:    qty,
		Amount:      amount,
		QuantitySum: qty,
		AmountSum:   amount,
		Kind:        cfg.FirstOrderType,
	})

	for k := 1; k <= cfg.SafetyOrders; k++ {
		prev := orders[k-1]

		if k == 1 {
			price = rules.PriceToPrecision(prev.Price.Mul(startDrop))
			if !price.IsPositive() {
				return nil, errors.Wrapf(domain.ErrConfig, "order %d price falls to %s", k+1, price)
			}
			qty = rules.AmountToPrecision(cfg.SafetyOrderAmount.Div(price))
		} else {
			price = rules.PriceToPrecision(prev.Price.Mul(stepDrop))
			if !price.IsPositive() {
				return nil, errors.Wrapf(domain.ErrConfig, "order %d price falls to %s", k+1, price)
			}
			qty = rules.AmountToPrecision(prev.Quantity.Mul(stepGrowth).Add(prev.Quantity.Mul(cfg.SizeMultiplier)))
		}

		if err := checkSize(k+1, qty, price, rules); err != nil {
			return nil, err
		}

		amount = rules.PriceToPrecision(price.Mul(qty))
		amountSum := rules.PriceToPrecision(amount.Add(prev.AmountSum))
		qtySum := rules.AmountToPrecision(qty.Add(prev.QuantitySum))
		average := rules.PriceToPrecision(amountSum.Div(qtySum))

		orders = append(orders, domain.OrderPlan{
			OrderNo:     k + 1,
			Price:       price,
			Average:     average,
			Target:      rules.PriceToPrecision(average.Mul(takeProfit)),
			Quantity:    qty,
			Amount:      amount,
			QuantitySum: qtySum,
			AmountSum:   amountSum,
			Kind:        domain.OrderKindMarket,
		})
	}

	return orders, nil
}

func checkSize(orderNo int, qty, price decimal.Decimal, rules domain.MarketRules) error {
	if !qty.IsPositive() {
		return errors.Wrapf(domain.ErrInvalidOrderSize, "order %d quantity rounds to zero", orderNo)
	}
	if rules.MinAmount.IsPositive() && qty.LessThan(rules.MinAmount) {
		return errors.Wrapf(domain.ErrInvalidOrderSize, "order %d quantity %s below exchange minimum %s",
			orderNo, qty, rules.MinAmount)
	}
	if rules.MinNotional.IsPositive() && qty.Mul(price).LessThan(rules.MinNotional) {
		return errors.Wrapf(domain.ErrInvalidOrderSize, "order %d value %s below exchange minimum %s",
			orderNo, qty.Mul(price), rules.MinNotional)
	}

	return nil
}
