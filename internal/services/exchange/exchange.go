// Package exchange adapts spot exchanges to the operations the deal engine
// needs: quotes, market rules, balances and market orders addressed by a
// client order id.
package exchange

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

// Exchange is a spot venue the engine trades on.
type Exchange interface {
	Name() string
	FetchTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error)
	MarketRules(ctx context.Context, pair domain.Pair) (domain.MarketRules, error)
	FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	// CreateMarketBuyOrder places a market buy. Adapters that size market
	// buys in quote currency use req.QuoteAmount, the rest use req.Quantity.
	CreateMarketBuyOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	CreateMarketSellOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	// FetchOrder looks an order up by the client order id it was placed
	// with. Unknown ids yield domain.ErrOrderNotFound.
	FetchOrder(ctx context.Context, pair domain.Pair, clientOrderID string) (domain.OrderResult, error)
}

// Exchange names accepted in configuration.
const (
	NameBinance     = "binance"
	NameBybit       = "bybit"
	NameHyperliquid = "hyperliquid"
)

// classify maps a vendor error message onto the domain error kinds. Errors
// that match nothing are returned wrapped but unclassified, which callers
// treat as an unknown outcome.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "insufficient", "not enough", "balance is not enough"):
		return errors.Wrapf(domain.ErrInsufficientFunds, "%s: %v", op, err)
	case containsAny(msg, "invalid symbol", "symbol invalid", "not supported symbols", "unknown asset"):
		return errors.Wrapf(domain.ErrInvalidSymbol, "%s: %v", op, err)
	case containsAny(msg, "too many requests", "rate limit", "too many visits", "429"):
		return errors.Wrapf(domain.ErrRateLimited, "%s: %v", op, err)
	case containsAny(msg, "timeout", "deadline exceeded", "connection reset", "connection refused", "eof", "no such host"):
		return errors.Wrapf(domain.ErrNetwork, "%s: %v", op, err)
	case containsAny(msg, "rejected", "filter failure", "min notional", "lot_size", "order value", "order quantity"):
		return errors.Wrapf(domain.ErrOrderRejected, "%s: %v", op, err)
	default:
		return errors.Wrap(err, op)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

func parseDecimal(value, field string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s %q", field, value)
	}

	return d, nil
}
