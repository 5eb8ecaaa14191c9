package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

// market orders are emulated with IOC limits this far through the book
const hyperliquidSlippage = 0.005

// Hyperliquid trades Hyperliquid through IOC limit orders priced past the
// mid. Coins are addressed by the base asset. The Info API exposes no lot
// filters, so market rules come from configuration.
type Hyperliquid struct {
	ex          *hyperliquid.Exchange
	info        *hyperliquid.Info
	accountAddr string
	rules       domain.MarketRules
}

func NewHyperliquid(ex *hyperliquid.Exchange, accountAddr string, rules domain.MarketRules) (*Hyperliquid, error) {
	if ex == nil {
		return nil, errors.New("hyperliquid exchange is nil")
	}

	return &Hyperliquid{
		ex:          ex,
		info:        ex.Info(),
		accountAddr: accountAddr,
		rules:       rules,
	}, nil
}

func (h *Hyperliquid) Name() string { return NameHyperliquid }

// FetchTicker reports the mid price on both sides.
func (h *Hyperliquid) FetchTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error) {
	mids, err := h.info.AllMids(ctx)
	if err != nil {
		return domain.Ticker{}, classify(err, "fetch hyperliquid mids")
	}

	mid, ok := mids[pair.From]
	if !ok || mid == "" {
		return domain.Ticker{}, errors.Wrapf(domain.ErrInvalidSymbol, "hyperliquid has no mid price for %s", pair.From)
	}

	price, err := parseDecimal(mid, "mid")
	if err != nil {
		return domain.Ticker{}, err
	}

	return domain.Ticker{Bid: price, Ask: price}, nil
}

func (h *Hyperliquid) MarketRules(context.Context, domain.Pair) (domain.MarketRules, error) {
	return h.rules, nil
}

func (h *Hyperliquid) FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	st, err := h.info.SpotUserState(ctx, h.accountAddr)
	if err != nil {
		return decimal.Zero, classify(err, "fetch hyperliquid spot state")
	}

	for _, b := range st.Balances {
		if strings.EqualFold(b.Coin, asset) {
			return parseDecimal(b.Total, "balance")
		}
	}

	return decimal.Zero, nil
}

func (h *Hyperliquid) CreateMarketBuyOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return h.createOrder(ctx, true, req)
}

func (h *Hyperliquid) CreateMarketSellOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return h.createOrder(ctx, false, req)
}

func (h *Hyperliquid) createOrder(ctx context.Context, isBuy bool, req domain.OrderRequest) (domain.OrderResult, error) {
	size, _ := req.Quantity.Float64()

	px, err := h.ex.SlippagePrice(ctx, req.Pair.From, isBuy, hyperliquidSlippage, nil)
	if err != nil {
		return domain.OrderResult{}, classify(err, "hyperliquid slippage price")
	}

	cloid := cloidFromID(req.ClientOrderID)
	order := hyperliquid.CreateOrderRequest{
		Coin:          req.Pair.From,
		IsBuy:         isBuy,
		Price:         px,
		Size:          size,
		ClientOrderID: &cloid,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}

	if _, err := h.ex.Order(ctx, order, nil); err != nil {
		return domain.OrderResult{}, classify(err, "create hyperliquid order")
	}

	return domain.OrderResult{
		ClientOrderID: req.ClientOrderID,
		ExchangeID:    cloid,
		Status:        domain.OrderStatusOpen,
		UpdatedAt:     time.Now(),
	}, nil
}

func (h *Hyperliquid) FetchOrder(ctx context.Context, _ domain.Pair, clientOrderID string) (domain.OrderResult, error) {
	cloid := cloidFromID(clientOrderID)

	res, err := h.info.QueryOrderByCloid(ctx, h.accountAddr, cloid)
	if err != nil {
		return domain.OrderResult{}, classify(err, "query hyperliquid order")
	}
	if res == nil || res.Status != hyperliquid.OrderQueryStatusSuccess {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrOrderNotFound, "hyperliquid order %s", cloid)
	}

	result := domain.OrderResult{
		ClientOrderID: clientOrderID,
		ExchangeID:    cloid,
		UpdatedAt:     time.Now(),
	}

	switch res.Order.Status {
	case hyperliquid.OrderStatusValueFilled:
		result.Status = domain.OrderStatusFilled
		if result.FilledQty, err = parseDecimal(res.Order.Order.OrigSz, "size"); err != nil {
			return domain.OrderResult{}, err
		}
	case hyperliquid.OrderStatusValueOpen:
		result.Status = domain.OrderStatusOpen
	case hyperliquid.OrderStatusValueCanceled,
		hyperliquid.OrderStatusValueRejected,
		hyperliquid.OrderStatusValueSelfTradeCanceled:
		result.Status = domain.OrderStatusRejected
	default:
		result.Status = domain.OrderStatusOpen
	}

	return result, nil
}

// cloidFromID converts a free-form client id into a Hyperliquid cloid
// (0x followed by 32 hex chars).
func cloidFromID(id string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(id)))

	return "0x" + hex.EncodeToString(sum[:16])
}
