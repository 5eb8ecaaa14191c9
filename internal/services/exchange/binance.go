package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

// binance API error codes the adapter distinguishes
const (
	binanceCodeTooManyRequests = -1003
	binanceCodeFilterFailure   = -1013
	binanceCodeInvalidSymbol   = -1121
	binanceCodeOrderRejected   = -2010
	binanceCodeNoSuchOrder     = -2013
)

// Binance trades the Binance spot market.
type Binance struct {
	client *binance.Client
}

func NewBinance(client *binance.Client) *Binance {
	return &Binance{client: client}
}

func (b *Binance) Name() string { return NameBinance }

func (b *Binance) FetchTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error) {
	tickers, err := b.client.NewListBookTickersService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return domain.Ticker{}, binanceError(err, "fetch binance ticker")
	}
	if len(tickers) == 0 {
		return domain.Ticker{}, errors.Wrapf(domain.ErrInvalidSymbol, "binance returned no ticker for %s", pair)
	}

	bid, err := parseDecimal(tickers[0].BidPrice, "bid")
	if err != nil {
		return domain.Ticker{}, err
	}
	ask, err := parseDecimal(tickers[0].AskPrice, "ask")
	if err != nil {
		return domain.Ticker{}, err
	}

	return domain.Ticker{Bid: bid, Ask: ask}, nil
}

func (b *Binance) MarketRules(ctx context.Context, pair domain.Pair) (domain.MarketRules, error) {
	info, err := b.client.NewExchangeInfoService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return domain.MarketRules{}, binanceError(err, "fetch binance exchange info")
	}

	for _, s := range info.Symbols {
		if s.Symbol != pair.Symbol() {
			continue
		}

		return binanceRules(s.Filters)
	}

	return domain.MarketRules{}, errors.Wrapf(domain.ErrInvalidSymbol, "binance does not list %s", pair)
}

func binanceRules(filters []map[string]interface{}) (domain.MarketRules, error) {
	var (
		rules domain.MarketRules
		err   error
	)

	field := func(f map[string]interface{}, key string) (decimal.Decimal, error) {
		v, ok := f[key]
		if !ok {
			return decimal.Zero, nil
		}
		return parseDecimal(fmt.Sprint(v), key)
	}

	for _, f := range filters {
		switch f["filterType"] {
		case "PRICE_FILTER":
			if rules.PriceTick, err = field(f, "tickSize"); err != nil {
				return domain.MarketRules{}, err
			}
		case "LOT_SIZE":
			if rules.AmountStep, err = field(f, "stepSize"); err != nil {
				return domain.MarketRules{}, err
			}
			if rules.MinAmount, err = field(f, "minQty"); err != nil {
				return domain.MarketRules{}, err
			}
		case "NOTIONAL", "MIN_NOTIONAL":
			if rules.MinNotional, err = field(f, "minNotional"); err != nil {
				return domain.MarketRules{}, err
			}
		}
	}

	return rules, nil
}

func (b *Binance) FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, binanceError(err, "fetch binance account")
	}

	for _, balance := range account.Balances {
		if balance.Asset == asset {
			return parseDecimal(balance.Free, "balance")
		}
	}

	return decimal.Zero, nil
}

func (b *Binance) CreateMarketBuyOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return b.createOrder(ctx, binance.SideTypeBuy, req)
}

func (b *Binance) CreateMarketSellOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return b.createOrder(ctx, binance.SideTypeSell, req)
}

func (b *Binance) createOrder(ctx context.Context, side binance.SideType, req domain.OrderRequest) (domain.OrderResult, error) {
	resp, err := b.client.NewCreateOrderService().Symbol(req.Pair.Symbol()).
		Side(side).Type(binance.OrderTypeMarket).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)
	if err != nil {
		return domain.OrderResult{}, binanceError(err, fmt.Sprintf("create binance %s order", side))
	}

	return binanceResult(req.ClientOrderID, resp.OrderID, resp.Status, resp.ExecutedQuantity, resp.CummulativeQuoteQuantity, resp.TransactTime)
}

func (b *Binance) FetchOrder(ctx context.Context, pair domain.Pair, clientOrderID string) (domain.OrderResult, error) {
	order, err := b.client.NewGetOrderService().
		Symbol(pair.Symbol()).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return domain.OrderResult{}, binanceError(err, "fetch binance order")
	}

	return binanceResult(clientOrderID, order.OrderID, order.Status, order.ExecutedQuantity, order.CummulativeQuoteQuantity, order.UpdateTime)
}

func binanceResult(clientOrderID string, orderID int64, status binance.OrderStatusType, executed, quote string, updatedMs int64) (domain.OrderResult, error) {
	filledQty, err := parseDecimal(executed, "executed quantity")
	if err != nil {
		return domain.OrderResult{}, err
	}
	quoteQty, err := parseDecimal(quote, "quote quantity")
	if err != nil {
		return domain.OrderResult{}, err
	}

	result := domain.OrderResult{
		ClientOrderID: clientOrderID,
		ExchangeID:    fmt.Sprintf("%d", orderID),
		FilledQty:     filledQty,
		UpdatedAt:     time.UnixMilli(updatedMs),
	}
	if filledQty.IsPositive() {
		result.AvgPrice = quoteQty.Div(filledQty)
	}

	switch status {
	case binance.OrderStatusTypeFilled:
		result.Status = domain.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		// market orders expire with a partial fill when liquidity runs out;
		// whatever executed is the outcome
		if filledQty.IsPositive() {
			result.Status = domain.OrderStatusFilled
		} else {
			result.Status = domain.OrderStatusRejected
		}
	default:
		result.Status = domain.OrderStatusOpen
	}

	return result, nil
}

func binanceError(err error, op string) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return classify(err, op)
	}

	switch apiErr.Code {
	case binanceCodeNoSuchOrder:
		return errors.Wrapf(domain.ErrOrderNotFound, "%s: %s", op, apiErr.Message)
	case binanceCodeInvalidSymbol:
		return errors.Wrapf(domain.ErrInvalidSymbol, "%s: %s", op, apiErr.Message)
	case binanceCodeTooManyRequests:
		return errors.Wrapf(domain.ErrRateLimited, "%s: %s", op, apiErr.Message)
	case binanceCodeFilterFailure:
		return errors.Wrapf(domain.ErrOrderRejected, "%s: %s", op, apiErr.Message)
	case binanceCodeOrderRejected:
		if classified := classify(apiErr, op); errors.Is(classified, domain.ErrInsufficientFunds) {
			return classified
		}
		return errors.Wrapf(domain.ErrOrderRejected, "%s: %s", op, apiErr.Message)
	default:
		return classify(apiErr, op)
	}
}
