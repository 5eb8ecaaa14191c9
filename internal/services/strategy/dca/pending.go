package dca

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"go.uber.org/zap"
)

// reconcilePending settles the pending order of deal against the exchange.
// A filled order is applied, a rejected or vanished one is cleared and
// counted as a failure, anything else is left for the next tick.
func (f *Follower) reconcilePending(ctx context.Context, deal domain.Deal) (domain.Deal, error) {
	pending := deal.Pending

	result, err := f.exchange.FetchOrder(ctx, deal.Pair, pending.ClientOrderID)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		if f.now().Sub(pending.PlacedAt) < f.cfg.OrderLookupGrace {
			return deal, nil
		}

		return f.recordFailure(ctx, deal, errors.Wrapf(err, "pending order %s", pending.ClientOrderID))
	case err != nil:
		f.l.Warn("failed to check pending order",
			zap.String("deal_id", deal.ID),
			zap.String("client_order_id", pending.ClientOrderID),
			zap.Error(err))

		return deal, nil
	}

	switch result.Status {
	case domain.OrderStatusFilled:
		f.l.Info("pending order executed, applying to deal",
			zap.String("deal_id", deal.ID),
			zap.String("client_order_id", pending.ClientOrderID),
			zap.String("action", pending.Action.String()),
			zap.String("filled_qty", result.FilledQty.String()))

		return f.confirm(ctx, deal, result)
	case domain.OrderStatusRejected:
		return f.recordFailure(ctx, deal, errors.Wrapf(domain.ErrOrderRejected, "pending order %s", pending.ClientOrderID))
	default:
		return deal, nil
	}
}
