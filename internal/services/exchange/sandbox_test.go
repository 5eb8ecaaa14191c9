package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/storage/simstate"
	mocks "github.com/vadiminshakov/dcaladder/mocks/exchange"
	"go.uber.org/zap"
)

var btcUSDT = domain.Pair{From: "BTC", To: "USDT"}

func newTestSandbox(t *testing.T, dir string, market *mocks.Exchange) *Sandbox {
	t.Helper()

	store, err := simstate.NewStore(dir, btcUSDT, "bot-1")
	require.NoError(t, err)

	sb, err := NewSandbox(zap.NewNop(), market, btcUSDT, decimal.NewFromInt(1000), store)
	require.NoError(t, err)

	return sb
}

func quote(bid, ask string) domain.Ticker {
	return domain.Ticker{Bid: decimal.RequireFromString(bid), Ask: decimal.RequireFromString(ask)}
}

func TestSandbox_BuyAndSell(t *testing.T) {
	ctx := context.Background()
	market := mocks.NewExchange(t)
	market.On("FetchTicker", mock.Anything, btcUSDT).Return(quote("49990", "50000"), nil).Once()
	market.On("FetchTicker", mock.Anything, btcUSDT).Return(quote("51000", "51010"), nil).Once()

	sb := newTestSandbox(t, t.TempDir(), market)

	buy, err := sb.CreateMarketBuyOrder(ctx, domain.OrderRequest{
		Pair:          btcUSDT,
		Quantity:      decimal.RequireFromString("0.002"),
		ClientOrderID: "buy-1",
	})
	require.NoError(t, err)
	require.True(t, buy.Filled())
	require.Equal(t, "50000", buy.AvgPrice.String())

	quoteBalance, err := sb.FetchBalance(ctx, "USDT")
	require.NoError(t, err)
	require.Equal(t, "900", quoteBalance.String())

	sell, err := sb.CreateMarketSellOrder(ctx, domain.OrderRequest{
		Pair:          btcUSDT,
		Quantity:      decimal.RequireFromString("0.002"),
		ClientOrderID: "sell-1",
	})
	require.NoError(t, err)
	require.Equal(t, "51000", sell.AvgPrice.String())

	quoteBalance, err = sb.FetchBalance(ctx, "USDT")
	require.NoError(t, err)
	require.Equal(t, "1002", quoteBalance.String())

	baseBalance, err := sb.FetchBalance(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, baseBalance.IsZero())
}

func TestSandbox_InsufficientFunds(t *testing.T) {
	market := mocks.NewExchange(t)
	market.On("FetchTicker", mock.Anything, btcUSDT).Return(quote("49990", "50000"), nil)

	sb := newTestSandbox(t, t.TempDir(), market)

	_, err := sb.CreateMarketBuyOrder(context.Background(), domain.OrderRequest{
		Pair:          btcUSDT,
		Quantity:      decimal.NewFromInt(1),
		ClientOrderID: "too-big",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.True(t, domain.IsRejection(err))

	_, err = sb.FetchOrder(context.Background(), btcUSDT, "too-big")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestSandbox_DuplicateClientOrderID(t *testing.T) {
	ctx := context.Background()
	market := mocks.NewExchange(t)
	market.On("FetchTicker", mock.Anything, btcUSDT).Return(quote("49990", "50000"), nil).Once()

	sb := newTestSandbox(t, t.TempDir(), market)
	req := domain.OrderRequest{Pair: btcUSDT, Quantity: decimal.RequireFromString("0.001"), ClientOrderID: "same"}

	first, err := sb.CreateMarketBuyOrder(ctx, req)
	require.NoError(t, err)

	second, err := sb.CreateMarketBuyOrder(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first, second)

	balance, err := sb.FetchBalance(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, "0.001", balance.String())
}

func TestSandbox_StateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	market := mocks.NewExchange(t)
	market.On("FetchTicker", mock.Anything, btcUSDT).Return(quote("49990", "50000"), nil).Once()

	sb := newTestSandbox(t, dir, market)
	_, err := sb.CreateMarketBuyOrder(ctx, domain.OrderRequest{
		Pair:          btcUSDT,
		Quantity:      decimal.RequireFromString("0.002"),
		ClientOrderID: "buy-1",
	})
	require.NoError(t, err)

	restarted := newTestSandbox(t, dir, mocks.NewExchange(t))

	balance, err := restarted.FetchBalance(ctx, "USDT")
	require.NoError(t, err)
	require.Equal(t, "900", balance.String())

	order, err := restarted.FetchOrder(ctx, btcUSDT, "buy-1")
	require.NoError(t, err)
	require.True(t, order.Filled())
	require.Equal(t, "0.002", order.FilledQty.String())
}

func TestSandbox_RejectsForeignPair(t *testing.T) {
	sb := newTestSandbox(t, t.TempDir(), mocks.NewExchange(t))

	_, err := sb.CreateMarketBuyOrder(context.Background(), domain.OrderRequest{
		Pair:          domain.Pair{From: "ETH", To: "USDT"},
		Quantity:      decimal.NewFromInt(1),
		ClientOrderID: "x",
	})
	require.ErrorIs(t, err, domain.ErrInvalidSymbol)
}

func TestWithTimeout_SlowCallBecomesNetworkError(t *testing.T) {
	market := mocks.NewExchange(t)
	market.On("FetchTicker", mock.Anything, btcUSDT).
		Run(func(mock.Arguments) { time.Sleep(200 * time.Millisecond) }).
		Return(domain.Ticker{}, nil)

	ex := WithTimeout(market, 20*time.Millisecond)

	_, err := ex.FetchTicker(context.Background(), btcUSDT)
	require.ErrorIs(t, err, domain.ErrNetwork)
	require.False(t, domain.IsRejection(err))

	// let the abandoned call finish before mock expectations are asserted
	time.Sleep(250 * time.Millisecond)
}

func TestWithTimeout_PassesResults(t *testing.T) {
	market := mocks.NewExchange(t)
	market.On("Name").Return("binance")
	market.On("FetchBalance", mock.Anything, "USDT").Return(decimal.NewFromInt(42), nil)

	ex := WithTimeout(market, time.Second)

	require.Equal(t, "binance", ex.Name())

	balance, err := ex.FetchBalance(context.Background(), "USDT")
	require.NoError(t, err)
	require.Equal(t, "42", balance.String())
}
