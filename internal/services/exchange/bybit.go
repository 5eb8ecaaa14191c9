package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

const bybitAccountType = "UNIFIED"

// Bybit trades the Bybit V5 spot market. The SDK calls take no context, so
// cancellation is enforced by the WithTimeout decorator around the adapter.
type Bybit struct {
	client *bybit.Client
}

func NewBybit(client *bybit.Client) *Bybit {
	return &Bybit{client: client}
}

func (b *Bybit) Name() string { return NameBybit }

func (b *Bybit) FetchTicker(_ context.Context, pair domain.Pair) (domain.Ticker, error) {
	symbol := bybit.SymbolV5(pair.Symbol())

	res, err := b.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return domain.Ticker{}, classify(err, "fetch bybit ticker")
	}
	if res.Result.Spot == nil || len(res.Result.Spot.List) == 0 {
		return domain.Ticker{}, errors.Wrapf(domain.ErrInvalidSymbol, "bybit returned no ticker for %s", pair)
	}

	item := res.Result.Spot.List[0]
	bid, err := parseDecimal(item.Bid1Price, "bid")
	if err != nil {
		return domain.Ticker{}, err
	}
	ask, err := parseDecimal(item.Ask1Price, "ask")
	if err != nil {
		return domain.Ticker{}, err
	}

	// thin books can leave one side empty
	if bid.IsZero() || ask.IsZero() {
		last, err := parseDecimal(item.LastPrice, "last price")
		if err != nil {
			return domain.Ticker{}, err
		}
		if bid.IsZero() {
			bid = last
		}
		if ask.IsZero() {
			ask = last
		}
	}

	return domain.Ticker{Bid: bid, Ask: ask}, nil
}

func (b *Bybit) MarketRules(_ context.Context, pair domain.Pair) (domain.MarketRules, error) {
	symbol := bybit.SymbolV5(pair.Symbol())

	res, err := b.client.V5().Market().GetInstrumentsInfo(bybit.V5GetInstrumentsInfoParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return domain.MarketRules{}, classify(err, "fetch bybit instruments info")
	}
	if res.Result.Spot == nil || len(res.Result.Spot.List) == 0 {
		return domain.MarketRules{}, errors.Wrapf(domain.ErrInvalidSymbol, "bybit does not list %s", pair)
	}

	item := res.Result.Spot.List[0]

	var rules domain.MarketRules
	if rules.PriceTick, err = parseDecimal(item.PriceFilter.TickSize, "tick size"); err != nil {
		return domain.MarketRules{}, err
	}
	if rules.AmountStep, err = parseDecimal(item.LotSizeFilter.BasePrecision, "base precision"); err != nil {
		return domain.MarketRules{}, err
	}
	if rules.MinAmount, err = parseDecimal(item.LotSizeFilter.MinOrderQty, "min order qty"); err != nil {
		return domain.MarketRules{}, err
	}
	if rules.MinNotional, err = parseDecimal(item.LotSizeFilter.MinOrderAmt, "min order amount"); err != nil {
		return domain.MarketRules{}, err
	}

	return rules, nil
}

func (b *Bybit) FetchBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	res, err := b.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5(bybitAccountType), nil)
	if err != nil {
		return decimal.Zero, classify(err, "fetch bybit wallet balance")
	}
	if len(res.Result.List) == 0 {
		return decimal.Zero, nil
	}

	for _, coin := range res.Result.List[0].Coin {
		if string(coin.Coin) == asset {
			return parseDecimal(coin.WalletBalance, "wallet balance")
		}
	}

	return decimal.Zero, nil
}

// CreateMarketBuyOrder sizes the order in quote currency, which is how Bybit
// interprets qty on spot market buys.
func (b *Bybit) CreateMarketBuyOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return b.createOrder(bybit.SideBuy, req.QuoteAmount, req)
}

func (b *Bybit) CreateMarketSellOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return b.createOrder(bybit.SideSell, req.Quantity, req)
}

func (b *Bybit) createOrder(side bybit.Side, qty decimal.Decimal, req domain.OrderRequest) (domain.OrderResult, error) {
	linkID := req.ClientOrderID

	res, err := b.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    "spot",
		Symbol:      bybit.SymbolV5(req.Pair.Symbol()),
		Side:        side,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         qty.String(),
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.OrderResult{}, classify(err, "create bybit "+string(side)+" order")
	}

	// the create response carries ids only; the fill is read back later
	return domain.OrderResult{
		ClientOrderID: req.ClientOrderID,
		ExchangeID:    res.Result.OrderID,
		Status:        domain.OrderStatusOpen,
		UpdatedAt:     time.Now(),
	}, nil
}

func (b *Bybit) FetchOrder(_ context.Context, pair domain.Pair, clientOrderID string) (domain.OrderResult, error) {
	symbol := bybit.SymbolV5(pair.Symbol())
	linkID := clientOrderID

	res, err := b.client.V5().Order().GetHistoryOrders(bybit.V5GetHistoryOrdersParam{
		Category:    "spot",
		Symbol:      &symbol,
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.OrderResult{}, classify(err, "fetch bybit order")
	}
	if len(res.Result.List) == 0 {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrOrderNotFound, "bybit order %s", clientOrderID)
	}

	order := res.Result.List[0]

	filledQty, err := parseDecimal(order.CumExecQty, "executed quantity")
	if err != nil {
		return domain.OrderResult{}, err
	}
	avgPrice, err := parseDecimal(order.AvgPrice, "average price")
	if err != nil {
		return domain.OrderResult{}, err
	}

	result := domain.OrderResult{
		ClientOrderID: clientOrderID,
		ExchangeID:    order.OrderID,
		FilledQty:     filledQty,
		AvgPrice:      avgPrice,
		Status:        bybitStatus(string(order.OrderStatus), filledQty),
		UpdatedAt:     time.Now(),
	}
	if ms, err := strconv.ParseInt(order.UpdatedTime, 10, 64); err == nil {
		result.UpdatedAt = time.UnixMilli(ms)
	}

	return result, nil
}

func bybitStatus(status string, filledQty decimal.Decimal) domain.OrderStatus {
	switch status {
	case "Filled":
		return domain.OrderStatusFilled
	case "PartiallyFilledCanceled", "Cancelled", "Rejected", "Deactivated":
		if filledQty.IsPositive() {
			return domain.OrderStatusFilled
		}
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusOpen
	}
}
