package exchange

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

// DefaultCallTimeout bounds a single exchange call.
const DefaultCallTimeout = 10 * time.Second

type timeoutExchange struct {
	next    Exchange
	timeout time.Duration
}

// WithTimeout bounds every call to next. A call that outlives the timeout
// returns domain.ErrNetwork even when the underlying SDK ignores the context;
// its goroutine is left to finish on its own.
func WithTimeout(next Exchange, timeout time.Duration) Exchange {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &timeoutExchange{next: next, timeout: timeout}
}

func (t *timeoutExchange) Name() string { return t.next.Name() }

func (t *timeoutExchange) FetchTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error) {
	return bounded(ctx, t.timeout, "fetch ticker", func(ctx context.Context) (domain.Ticker, error) {
		return t.next.FetchTicker(ctx, pair)
	})
}

func (t *timeoutExchange) MarketRules(ctx context.Context, pair domain.Pair) (domain.MarketRules, error) {
	return bounded(ctx, t.timeout, "market rules", func(ctx context.Context) (domain.MarketRules, error) {
		return t.next.MarketRules(ctx, pair)
	})
}

func (t *timeoutExchange) FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return bounded(ctx, t.timeout, "fetch balance", func(ctx context.Context) (decimal.Decimal, error) {
		return t.next.FetchBalance(ctx, asset)
	})
}

func (t *timeoutExchange) CreateMarketBuyOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return bounded(ctx, t.timeout, "create buy order", func(ctx context.Context) (domain.OrderResult, error) {
		return t.next.CreateMarketBuyOrder(ctx, req)
	})
}

func (t *timeoutExchange) CreateMarketSellOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return bounded(ctx, t.timeout, "create sell order", func(ctx context.Context) (domain.OrderResult, error) {
		return t.next.CreateMarketSellOrder(ctx, req)
	})
}

func (t *timeoutExchange) FetchOrder(ctx context.Context, pair domain.Pair, clientOrderID string) (domain.OrderResult, error) {
	return bounded(ctx, t.timeout, "fetch order", func(ctx context.Context) (domain.OrderResult, error) {
		return t.next.FetchOrder(ctx, pair, clientOrderID)
	})
}

func bounded[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}

	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && !errors.Is(out.err, domain.ErrNetwork) {
			return out.value, errors.Wrapf(domain.ErrNetwork, "%s: %v", op, out.err)
		}

		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrapf(domain.ErrNetwork, "%s: %v", op, ctx.Err())
	}
}
