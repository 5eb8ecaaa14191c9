package dca

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

// decision reasons
const (
	reasonDealClosed     = "deal_closed"
	reasonEntry          = "entry"
	reasonWaitLimitPrice = "waiting_for_limit_price"
	reasonSafetyOrder    = "safety_order"
	reasonTakeProfit     = "take_profit"
	reasonHolding        = "holding"
)

// Decision what the state machine wants to do at a market price.
type Decision struct {
	Action domain.Action
	// OrderNo rung being bought, or the current rung when selling.
	OrderNo     int
	Quantity    decimal.Decimal
	QuoteAmount decimal.Decimal
	// Price market price the decision was taken at.
	Price  decimal.Decimal
	Reason string
}

// Transition a decision together with the record that results once the
// decided order is confirmed.
type Transition struct {
	Decision Decision
	Deal     domain.Deal
}

// Evaluate decides the next action for deal at price. At most one action is
// returned: the buy branch, checked against the next unfilled rung, wins over
// the sell branch, checked against the last filled rung's target. The sell
// branch stays reachable once every rung is filled.
func Evaluate(deal domain.Deal, price decimal.Decimal) Decision {
	none := func(reason string) Decision {
		return Decision{Action: domain.ActionNone, Price: price, Reason: reason}
	}

	switch deal.State() {
	case domain.StateClosed:
		return none(reasonDealClosed)
	case domain.StateAwaitingEntry:
		base := deal.Orders[0]
		if base.Kind == domain.OrderKindLimit && price.GreaterThan(base.Price) {
			return none(reasonWaitLimitPrice)
		}

		return buy(base, price, reasonEntry)
	}

	if next, ok := deal.NextRung(); ok && price.LessThanOrEqual(next.Price) {
		return buy(next, price, reasonSafetyOrder)
	}

	current, ok := deal.CurrentRung()
	if ok && price.GreaterThanOrEqual(current.Target) {
		held := deal.HeldQuantity()

		return Decision{
			Action:      domain.ActionSell,
			OrderNo:     current.OrderNo,
			Quantity:    held,
			QuoteAmount: held.Mul(price),
			Price:       price,
			Reason:      reasonTakeProfit,
		}
	}

	return none(reasonHolding)
}

func buy(rung domain.OrderPlan, price decimal.Decimal, reason string) Decision {
	return Decision{
		Action:      domain.ActionBuy,
		OrderNo:     rung.OrderNo,
		Quantity:    rung.Quantity,
		QuoteAmount: rung.Amount,
		Price:       price,
		Reason:      reason,
	}
}

// Apply returns the record after the decided order has been confirmed by the
// exchange. The decision's Quantity is taken as executed, so a partially
// filled buy records what was bought and the exit sells only that. The input
// is not modified. Closed deals are terminal.
func Apply(deal domain.Deal, decision Decision, now time.Time) (domain.Deal, error) {
	if deal.Status == domain.DealStatusClosed {
		return deal, errors.Wrapf(domain.ErrDealClosed, "apply %s to deal %s", decision.Action, deal.ID)
	}

	next := deal.Clone()

	switch decision.Action {
	case domain.ActionNone:
		return next, nil
	case domain.ActionBuy:
		rung, ok := deal.NextRung()
		if !ok || rung.OrderNo != decision.OrderNo {
			return deal, errors.Wrapf(domain.ErrInvariant, "deal %s cannot fill order %d", deal.ID, decision.OrderNo)
		}

		filled := rung.Quantity
		if decision.Quantity.IsPositive() {
			filled = decision.Quantity
		}

		filledAt := now
		idx := rung.OrderNo - 1
		next.Orders[idx].Filled = true
		next.Orders[idx].FilledAt = &filledAt
		next.Orders[idx].FilledQuantity = filled
		if idx == 0 {
			next.EntryConfirmed = true
		}
	case domain.ActionSell:
		current, ok := deal.CurrentRung()
		if !ok {
			return deal, errors.Wrapf(domain.ErrInvariant, "deal %s sells before entry", deal.ID)
		}

		sold := deal.HeldQuantity()
		if decision.Quantity.IsPositive() {
			sold = decision.Quantity
		}

		next.Sell = &domain.SellResult{
			Date:          now,
			Quantity:      sold,
			Price:         decision.Price,
			Average:       current.Average,
			Target:        current.Target,
			ProfitPercent: domain.ProfitPercent(decision.Price, current.Average),
		}
		next.Status = domain.DealStatusClosed
	default:
		return deal, errors.Errorf("unknown action %d", decision.Action)
	}

	next.Pending = nil
	next.Health = domain.DealHealth{}
	next.UpdatedAt = now

	if err := next.Validate(); err != nil {
		return deal, err
	}

	return next, nil
}

// Next evaluates deal at price and computes the resulting record.
func Next(deal domain.Deal, price decimal.Decimal, now time.Time) (Transition, error) {
	decision := Evaluate(deal, price)
	if decision.Action == domain.ActionNone {
		return Transition{Decision: decision, Deal: deal}, nil
	}

	next, err := Apply(deal, decision, now)
	if err != nil {
		return Transition{}, err
	}

	return Transition{Decision: decision, Deal: next}, nil
}

// pendingOrder records decision as an order awaiting confirmation.
func (d Decision) pendingOrder(clientOrderID string, now time.Time) *domain.PendingOrder {
	return &domain.PendingOrder{
		ClientOrderID: clientOrderID,
		Action:        d.Action,
		OrderNo:       d.OrderNo,
		Quantity:      d.Quantity,
		QuoteAmount:   d.QuoteAmount,
		Price:         d.Price,
		PlacedAt:      now,
	}
}

func decisionFromPending(p *domain.PendingOrder) Decision {
	return Decision{
		Action:      p.Action,
		OrderNo:     p.OrderNo,
		Quantity:    p.Quantity,
		QuoteAmount: p.QuoteAmount,
		Price:       p.Price,
		Reason:      "pending_order",
	}
}
