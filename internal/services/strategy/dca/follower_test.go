package dca

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/storage/deals"
	mocks "github.com/vadiminshakov/dcaladder/mocks/exchange"
	"github.com/vadiminshakov/dcaladder/pkg/retrier"
	"go.uber.org/zap"
)

type followerFixture struct {
	exchange *mocks.Exchange
	store    *deals.Store
	journal  *journal
	clock    *fakeClock
	deal     domain.Deal
}

func newFollowerFixture(t *testing.T, deal domain.Deal) *followerFixture {
	t.Helper()

	store, err := deals.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Create(deal))

	return &followerFixture{
		exchange: mocks.NewExchange(t),
		store:    store,
		journal:  &journal{},
		clock:    &fakeClock{now: t0},
		deal:     deal,
	}
}

func (fx *followerFixture) follower(cfg Config) *Follower {
	return NewFollower(zap.NewNop(), fx.exchange, fx.store, cfg,
		WithJournal(fx.journal),
		WithClock(fx.clock.Now),
		WithRetrier(retrier.New(retrier.WithMaxRetries(0))),
	)
}

func (fx *followerFixture) stored(t *testing.T) domain.Deal {
	t.Helper()

	deal, err := fx.store.Get(fx.deal.ID)
	require.NoError(t, err)

	return deal
}

func bid(price string) domain.Ticker {
	return domain.Ticker{Bid: d(price), Ask: d(price)}
}

func filled(qty, price string) domain.OrderResult {
	return domain.OrderResult{Status: domain.OrderStatusFilled, FilledQty: d(qty), AvgPrice: d(price), UpdatedAt: t0}
}

func withQuantity(qty string) interface{} {
	return mock.MatchedBy(func(req domain.OrderRequest) bool {
		return req.Quantity.Equal(d(qty)) && req.ClientOrderID != ""
	})
}

func TestFollower_FullCycle(t *testing.T) {
	ctx := context.Background()
	fx := newFollowerFixture(t, newTestDeal(t, testConfig(2), t0))
	f := fx.follower(Config{})

	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("50000"), nil).Once()
	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("49500"), nil).Once()
	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("49000"), nil).Once()
	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("50000"), nil).Once()
	fx.exchange.On("CreateMarketBuyOrder", mock.Anything, withQuantity("0.002")).Return(filled("0.002", "50000"), nil).Once()
	fx.exchange.On("CreateMarketBuyOrder", mock.Anything, withQuantity("0.0020408")).Return(filled("0.0020408", "49000"), nil).Once()
	fx.exchange.On("CreateMarketSellOrder", mock.Anything, withQuantity("0.0040408")).Return(filled("0.0040408", "50010"), nil).Once()

	res, err := f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActionBuy, res.Action)
	require.Equal(t, domain.StateAccumulating, res.State)
	require.True(t, fx.stored(t).EntryConfirmed)

	res, err = f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActionNone, res.Action)
	require.True(t, res.Advanced)

	res, err = f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActionBuy, res.Action)
	require.Equal(t, 1, fx.stored(t).SafetyOrdersUsed())

	res, err = f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.True(t, res.Finished)

	closed := fx.stored(t)
	require.Equal(t, domain.DealStatusClosed, closed.Status)
	require.Nil(t, closed.Pending)
	require.Equal(t, "50010", closed.Sell.Price.String())
	require.Equal(t, "1.04", closed.Sell.ProfitPercent.String())

	require.Equal(t, []domain.DealEventType{
		domain.DealEventEntryFilled,
		domain.DealEventSafetyFilled,
		domain.DealEventSold,
	}, fx.journal.types())

	// closed deals are left alone
	res, err = f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.True(t, res.Finished)
}

func TestFollower_PartialFillSellsWhatWasBought(t *testing.T) {
	ctx := context.Background()
	fx := newFollowerFixture(t, newTestDeal(t, testConfig(2), t0))
	f := fx.follower(Config{})

	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("50000"), nil).Once()
	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("49000"), nil).Once()
	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("50000"), nil).Once()
	// the base order expires with three quarters executed
	fx.exchange.On("CreateMarketBuyOrder", mock.Anything, withQuantity("0.002")).Return(filled("0.0015", "50000"), nil).Once()
	fx.exchange.On("CreateMarketBuyOrder", mock.Anything, withQuantity("0.0020408")).Return(filled("0.0020408", "49000"), nil).Once()
	fx.exchange.On("CreateMarketSellOrder", mock.Anything, withQuantity("0.0035408")).Return(filled("0.0035408", "50000"), nil).Once()

	_, err := f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)

	entered := fx.stored(t)
	require.True(t, entered.EntryConfirmed)
	require.Equal(t, "0.0015", entered.Orders[0].FilledQuantity.String())
	require.Equal(t, "0.0015", entered.HeldQuantity().String())

	_, err = f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.Equal(t, "0.0035408", fx.stored(t).HeldQuantity().String())

	res, err := f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.True(t, res.Finished)

	closed := fx.stored(t)
	require.Equal(t, domain.DealStatusClosed, closed.Status)
	require.Equal(t, "0.0035408", closed.Sell.Quantity.String())
}

func TestFollower_PriceFetchFailureChangesNothing(t *testing.T) {
	fx := newFollowerFixture(t, newTestDeal(t, testConfig(2), t0))
	f := fx.follower(Config{})

	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(domain.Ticker{}, domain.ErrNetwork).Once()

	before := fx.stored(t)

	res, err := f.Tick(context.Background(), fx.deal.ID)
	require.NoError(t, err)
	require.False(t, res.Advanced)
	require.Equal(t, domain.ActionNone, res.Action)
	require.Equal(t, before, fx.stored(t))
}

func TestFollower_RejectedOrderIsNotFilled(t *testing.T) {
	ctx := context.Background()
	fx := newFollowerFixture(t, newTestDeal(t, testConfig(2), t0))
	f := fx.follower(Config{MaxExecutionFailures: 2})

	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("50000"), nil).Times(2)
	fx.exchange.On("CreateMarketBuyOrder", mock.Anything, withQuantity("0.002")).
		Return(domain.OrderResult{}, domain.ErrInsufficientFunds).Times(2)

	_, err := f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)

	deal := fx.stored(t)
	require.False(t, deal.EntryConfirmed)
	require.Nil(t, deal.Pending)
	require.Equal(t, 1, deal.Health.Failures)
	require.False(t, deal.Health.Degraded)

	_, err = f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)

	deal = fx.stored(t)
	require.False(t, deal.EntryConfirmed)
	require.True(t, deal.Health.Degraded)
	require.Contains(t, deal.Health.LastError, "insufficient funds")

	require.Equal(t, []domain.DealEventType{
		domain.DealEventExecutionFailed,
		domain.DealEventExecutionFailed,
		domain.DealEventDegraded,
	}, fx.journal.types())
}

func TestFollower_UnknownOutcomeIsReconciledWithoutSecondOrder(t *testing.T) {
	ctx := context.Background()
	fx := newFollowerFixture(t, newTestDeal(t, testConfig(2), t0))

	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("50000"), nil).Once()
	fx.exchange.On("CreateMarketBuyOrder", mock.Anything, withQuantity("0.002")).
		Return(domain.OrderResult{}, domain.ErrNetwork).Once()

	_, err := fx.follower(Config{}).Tick(ctx, fx.deal.ID)
	require.NoError(t, err)

	pending := fx.stored(t).Pending
	require.NotNil(t, pending)
	require.Equal(t, 1, pending.OrderNo)
	require.False(t, fx.stored(t).EntryConfirmed)

	// a fresh follower, as after a restart, settles the same order
	fx.exchange.On("FetchOrder", mock.Anything, btcUSDT, pending.ClientOrderID).
		Return(filled("0.002", "50000"), nil).Once()

	res, err := fx.follower(Config{}).Tick(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateAccumulating, res.State)

	deal := fx.stored(t)
	require.True(t, deal.EntryConfirmed)
	require.Nil(t, deal.Pending)
}

func TestFollower_MissingOrderFailsAfterGrace(t *testing.T) {
	ctx := context.Background()
	fx := newFollowerFixture(t, newTestDeal(t, testConfig(2), t0))
	f := fx.follower(Config{OrderLookupGrace: time.Minute})

	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("50000"), nil).Once()
	fx.exchange.On("CreateMarketBuyOrder", mock.Anything, mock.Anything).
		Return(domain.OrderResult{Status: domain.OrderStatusOpen}, nil).Once()

	_, err := f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)

	pending := fx.stored(t).Pending
	require.NotNil(t, pending)

	fx.exchange.On("FetchOrder", mock.Anything, btcUSDT, pending.ClientOrderID).
		Return(domain.OrderResult{}, domain.ErrOrderNotFound).Times(2)

	fx.clock.Advance(10 * time.Second)
	_, err = f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.NotNil(t, fx.stored(t).Pending)

	fx.clock.Advance(time.Minute)
	_, err = f.Tick(ctx, fx.deal.ID)
	require.NoError(t, err)

	deal := fx.stored(t)
	require.Nil(t, deal.Pending)
	require.False(t, deal.EntryConfirmed)
	require.Equal(t, 1, deal.Health.Failures)
}

func TestFollower_RunFinishesWhenDealCloses(t *testing.T) {
	deal := fillRungs(t, newTestDeal(t, testConfig(2), t0), 1, t0)
	fx := newFollowerFixture(t, deal)
	f := fx.follower(Config{PollInterval: time.Millisecond, EntryPollInterval: time.Millisecond, RetryInterval: time.Millisecond})

	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("49800"), nil).Once()
	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(domain.Ticker{}, domain.ErrRateLimited).Once()
	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(bid("50600"), nil).Once()
	fx.exchange.On("CreateMarketSellOrder", mock.Anything, withQuantity("0.002")).Return(filled("0.002", "50600"), nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	finished, err := f.Run(ctx, fx.deal.ID)
	require.NoError(t, err)
	require.True(t, finished)
	require.Equal(t, domain.DealStatusClosed, fx.stored(t).Status)
}

func TestFollower_RunStopsOnCancel(t *testing.T) {
	fx := newFollowerFixture(t, fillRungs(t, newTestDeal(t, testConfig(2), t0), 1, t0))
	f := fx.follower(Config{PollInterval: time.Hour})

	ticked := make(chan struct{})
	fx.exchange.On("FetchTicker", mock.Anything, btcUSDT).
		Run(func(mock.Arguments) { close(ticked) }).
		Return(bid("49800"), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	var (
		finished bool
		err      error
	)
	go func() {
		defer close(done)
		finished, err = f.Run(ctx, fx.deal.ID)
	}()

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("no tick happened")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
	require.NoError(t, err)
	require.False(t, finished)
	require.True(t, fx.stored(t).IsOpen())
}

func TestFollower_RunFailsOnMissingDeal(t *testing.T) {
	fx := newFollowerFixture(t, newTestDeal(t, testConfig(2), t0))

	_, err := fx.follower(Config{}).Run(context.Background(), "ETH_USDT-1")
	require.ErrorIs(t, err, domain.ErrDealNotFound)
}
