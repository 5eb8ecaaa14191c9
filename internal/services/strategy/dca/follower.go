// Package dca drives DCA deals: the pure state machine deciding buys and the
// take-profit sell, and the reconciliation loop applying it to a persisted deal.
package dca

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/metrics"
	"github.com/vadiminshakov/dcaladder/pkg/retrier"
	"go.uber.org/zap"
)

const (
	defaultEntryPollInterval    = 1 * time.Second
	defaultPollInterval         = 2 * time.Second
	defaultRetryInterval        = 1 * time.Second
	defaultMaxExecutionFailures = 5
	// lookups right after placement may miss orders the exchange has not indexed yet
	defaultOrderLookupGrace = 30 * time.Second
)

type exchange interface {
	FetchTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error)
	CreateMarketBuyOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	CreateMarketSellOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	FetchOrder(ctx context.Context, pair domain.Pair, clientOrderID string) (domain.OrderResult, error)
}

type dealStore interface {
	Get(id string) (domain.Deal, error)
	Save(deal domain.Deal) error
}

type eventJournal interface {
	Append(event domain.DealEvent) error
}

type observer interface {
	Observe(progress domain.DealProgress)
}

// Config timing of the reconciliation loop.
type Config struct {
	// EntryPollInterval sleep between ticks while the base order is not filled.
	EntryPollInterval time.Duration
	// PollInterval sleep between ticks while accumulating.
	PollInterval time.Duration
	// RetryInterval sleep after a failed price fetch.
	RetryInterval time.Duration
	// MaxExecutionFailures consecutive rejected orders before the deal is marked degraded.
	MaxExecutionFailures int
	OrderLookupGrace     time.Duration
}

func (c Config) withDefaults() Config {
	if c.EntryPollInterval <= 0 {
		c.EntryPollInterval = defaultEntryPollInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.MaxExecutionFailures <= 0 {
		c.MaxExecutionFailures = defaultMaxExecutionFailures
	}
	if c.OrderLookupGrace <= 0 {
		c.OrderLookupGrace = defaultOrderLookupGrace
	}

	return c
}

// TickResult outcome of one reconciliation tick.
type TickResult struct {
	Finished bool
	State    domain.DealState
	Action   domain.Action
	// Advanced is false when the tick could not read the market.
	Advanced bool
}

// Follower is the reconciliation loop of a deal. It keeps no state between
// ticks: every tick starts from the persisted record, so a fresh Follower
// continues exactly where a stopped one left off.
type Follower struct {
	l        *zap.Logger
	exchange exchange
	store    dealStore
	journal  eventJournal
	observer observer
	retrier  *retrier.Retrier
	cfg      Config
	now      func() time.Time
}

// Option configures a Follower.
type Option func(*Follower)

// WithJournal records lifecycle events.
func WithJournal(j eventJournal) Option {
	return func(f *Follower) {
		f.journal = j
	}
}

// WithObserver receives progress after every tick that read the market.
func WithObserver(o observer) Option {
	return func(f *Follower) {
		f.observer = o
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Follower) {
		f.now = now
	}
}

// WithRetrier overrides the persistence retry policy.
func WithRetrier(r *retrier.Retrier) Option {
	return func(f *Follower) {
		f.retrier = r
	}
}

// NewFollower creates the loop driver for deals traded on ex.
func NewFollower(l *zap.Logger, ex exchange, store dealStore, cfg Config, opts ...Option) *Follower {
	f := &Follower{
		l:        l,
		exchange: ex,
		store:    store,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		retrier: retrier.New(
			retrier.WithInitialInterval(200*time.Millisecond),
			retrier.WithMaxInterval(5*time.Second),
			retrier.WithMaxRetries(5),
			retrier.WithRetryIf(isRetryablePersistErr),
		),
	}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

func isRetryablePersistErr(err error) bool {
	return !errors.Is(err, domain.ErrDealClosed) &&
		!errors.Is(err, domain.ErrInvariant) &&
		!errors.Is(err, domain.ErrDealNotFound)
}

// Run drives the deal until it closes (finished=true) or ctx is cancelled.
// Cancellation is observed between ticks only: a started tick completes and
// persists its result.
func (f *Follower) Run(ctx context.Context, dealID string) (bool, error) {
	for {
		if ctx.Err() != nil {
			return false, nil
		}

		res, err := f.Tick(context.WithoutCancel(ctx), dealID)
		if err != nil {
			if errors.Is(err, domain.ErrDealNotFound) || errors.Is(err, domain.ErrInvariant) {
				return false, err
			}

			f.l.Warn("tick failed, retrying",
				zap.String("deal_id", dealID),
				zap.Error(err))

			if !sleep(ctx, f.cfg.RetryInterval) {
				return false, nil
			}

			continue
		}

		if res.Finished {
			return true, nil
		}

		wait := f.cfg.PollInterval
		switch {
		case !res.Advanced:
			wait = f.cfg.RetryInterval
		case res.State == domain.StateAwaitingEntry:
			wait = f.cfg.EntryPollInterval
		}

		if !sleep(ctx, wait) {
			return false, nil
		}
	}
}

// Tick performs one reconciliation step: settle a pending order, or read the
// price, decide and execute at most one order.
func (f *Follower) Tick(ctx context.Context, dealID string) (TickResult, error) {
	var deal domain.Deal
	err := f.retrier.Do(ctx, func(context.Context) error {
		var getErr error
		deal, getErr = f.store.Get(dealID)

		return getErr
	})
	if err != nil {
		return TickResult{}, errors.Wrapf(err, "load deal %s", dealID)
	}

	if !deal.IsOpen() {
		return TickResult{Finished: true, State: domain.StateClosed}, nil
	}

	if deal.Pending != nil {
		deal, err = f.reconcilePending(ctx, deal)
		if err != nil {
			return TickResult{State: deal.State()}, err
		}
		metrics.Ticks.WithLabelValues(deal.Pair.String(), "pending").Inc()

		return TickResult{Finished: !deal.IsOpen(), State: deal.State(), Advanced: true}, nil
	}

	ticker, err := f.exchange.FetchTicker(ctx, deal.Pair)
	if err != nil {
		metrics.Ticks.WithLabelValues(deal.Pair.String(), "fetch_error").Inc()
		f.l.Warn("failed to fetch ticker",
			zap.String("deal_id", deal.ID),
			zap.String("pair", deal.Pair.String()),
			zap.Error(err))

		return TickResult{State: deal.State()}, nil
	}

	price := ticker.Bid
	decision := Evaluate(deal, price)
	f.observe(deal, price)

	if decision.Action == domain.ActionNone {
		metrics.Ticks.WithLabelValues(deal.Pair.String(), "idle").Inc()

		return TickResult{State: deal.State(), Advanced: true}, nil
	}

	metrics.Ticks.WithLabelValues(deal.Pair.String(), "decided").Inc()
	f.l.Info("decision",
		zap.String("deal_id", deal.ID),
		zap.String("action", decision.Action.String()),
		zap.String("reason", decision.Reason),
		zap.Int("order_no", decision.OrderNo),
		zap.String("price", price.String()),
		zap.String("quantity", decision.Quantity.String()))

	deal, err = f.execute(ctx, deal, decision)
	if err != nil {
		return TickResult{State: deal.State(), Action: decision.Action, Advanced: true}, err
	}
	f.observe(deal, price)

	return TickResult{
		Finished: !deal.IsOpen(),
		State:    deal.State(),
		Action:   decision.Action,
		Advanced: true,
	}, nil
}

// execute persists the order intent, places it and applies it once filled.
func (f *Follower) execute(ctx context.Context, deal domain.Deal, decision Decision) (domain.Deal, error) {
	now := f.now()

	intent := deal.Clone()
	intent.Pending = decision.pendingOrder(uuid.New().String(), now)
	intent.UpdatedAt = now

	if err := f.persist(ctx, intent); err != nil {
		return deal, errors.Wrap(err, "persist pending order")
	}

	req := domain.OrderRequest{
		Pair:          deal.Pair,
		Quantity:      decision.Quantity,
		QuoteAmount:   decision.QuoteAmount,
		ClientOrderID: intent.Pending.ClientOrderID,
	}

	var (
		result domain.OrderResult
		err    error
	)
	if decision.Action == domain.ActionSell {
		result, err = f.exchange.CreateMarketSellOrder(ctx, req)
	} else {
		result, err = f.exchange.CreateMarketBuyOrder(ctx, req)
	}

	side := decision.Action.String()
	switch {
	case err != nil && domain.IsRejection(err):
		metrics.Orders.WithLabelValues(deal.Pair.String(), side, "rejected").Inc()

		return f.recordFailure(ctx, intent, err)
	case err != nil:
		metrics.Orders.WithLabelValues(deal.Pair.String(), side, "unknown").Inc()
		f.l.Warn("order outcome unknown, will reconcile",
			zap.String("deal_id", deal.ID),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err))

		return intent, nil
	case result.Status == domain.OrderStatusRejected:
		metrics.Orders.WithLabelValues(deal.Pair.String(), side, "rejected").Inc()

		return f.recordFailure(ctx, intent, errors.Wrapf(domain.ErrOrderRejected, "order %s", req.ClientOrderID))
	case !result.Filled():
		return intent, nil
	}

	metrics.Orders.WithLabelValues(deal.Pair.String(), side, "filled").Inc()

	return f.confirm(ctx, intent, result)
}

// confirm applies the filled pending order of deal and persists the result.
func (f *Follower) confirm(ctx context.Context, deal domain.Deal, result domain.OrderResult) (domain.Deal, error) {
	decision := decisionFromPending(deal.Pending)
	if decision.Action == domain.ActionSell && result.AvgPrice.IsPositive() {
		decision.Price = result.AvgPrice
	}
	if result.FilledQty.IsPositive() {
		if result.FilledQty.LessThan(decision.Quantity) {
			f.l.Warn("order filled partially",
				zap.String("deal_id", deal.ID),
				zap.Int("order_no", decision.OrderNo),
				zap.String("requested", decision.Quantity.String()),
				zap.String("filled", result.FilledQty.String()))
		}
		decision.Quantity = result.FilledQty
	}

	now := f.now()
	next, err := Apply(deal, decision, now)
	if err != nil {
		return deal, err
	}

	if err := f.persist(ctx, next); err != nil {
		return deal, errors.Wrap(err, "persist filled order")
	}

	event := domain.DealEvent{
		Time:     now,
		DealID:   next.ID,
		BotID:    next.BotID,
		Pair:     next.Pair.String(),
		OrderNo:  decision.OrderNo,
		Price:    decision.Price,
		Quantity: decision.Quantity,
	}

	switch {
	case decision.Action == domain.ActionSell:
		event.Type = domain.DealEventSold
		event.Message = "profit " + next.Sell.ProfitPercent.String() + "%"
		metrics.DealsClosed.WithLabelValues(next.Pair.String()).Inc()
		metrics.ClosedProfit.WithLabelValues(next.Pair.String()).Observe(next.Sell.ProfitPercent.InexactFloat64())
		f.l.Info("deal closed",
			zap.String("deal_id", next.ID),
			zap.String("price", next.Sell.Price.String()),
			zap.String("average", next.Sell.Average.String()),
			zap.String("profit_percent", next.Sell.ProfitPercent.String()))
	case decision.OrderNo == 1:
		event.Type = domain.DealEventEntryFilled
		f.l.Info("base order filled",
			zap.String("deal_id", next.ID),
			zap.String("price", decision.Price.String()),
			zap.String("quantity", decision.Quantity.String()))
	default:
		event.Type = domain.DealEventSafetyFilled
		f.l.Info("safety order filled",
			zap.String("deal_id", next.ID),
			zap.Int("order_no", decision.OrderNo),
			zap.String("price", decision.Price.String()),
			zap.String("quantity", decision.Quantity.String()))
	}
	f.record(event)

	return next, nil
}

// recordFailure clears the pending order of deal and counts the failure.
// The decision is re-evaluated on the next tick.
func (f *Follower) recordFailure(ctx context.Context, deal domain.Deal, cause error) (domain.Deal, error) {
	now := f.now()

	next := deal.Clone()
	failed := next.Pending
	next.Pending = nil
	next.Health.Failures++
	next.Health.LastError = cause.Error()
	next.UpdatedAt = now

	becameDegraded := !next.Health.Degraded && next.Health.Failures >= f.cfg.MaxExecutionFailures
	if becameDegraded {
		next.Health.Degraded = true
	}

	if err := f.persist(ctx, next); err != nil {
		return deal, errors.Wrap(err, "persist execution failure")
	}

	event := domain.DealEvent{
		Time:    now,
		DealID:  next.ID,
		BotID:   next.BotID,
		Pair:    next.Pair.String(),
		Type:    domain.DealEventExecutionFailed,
		Message: cause.Error(),
	}
	if failed != nil {
		event.OrderNo = failed.OrderNo
		event.Price = failed.Price
		event.Quantity = failed.Quantity
	}
	f.record(event)

	f.l.Warn("order not executed",
		zap.String("deal_id", next.ID),
		zap.Int("failures", next.Health.Failures),
		zap.Error(cause))

	if becameDegraded {
		metrics.DealsDegraded.WithLabelValues(next.Pair.String()).Inc()
		event.Type = domain.DealEventDegraded
		event.Message = "execution keeps failing: " + cause.Error()
		f.record(event)
		f.l.Error("deal degraded",
			zap.String("deal_id", next.ID),
			zap.String("pair", next.Pair.String()),
			zap.Int("failures", next.Health.Failures),
			zap.Error(cause))
	}

	return next, nil
}

func (f *Follower) persist(ctx context.Context, deal domain.Deal) error {
	return f.retrier.Do(ctx, func(context.Context) error {
		return f.store.Save(deal)
	})
}

func (f *Follower) record(event domain.DealEvent) {
	if f.journal == nil {
		return
	}
	if err := f.journal.Append(event); err != nil {
		f.l.Error("failed to journal deal event",
			zap.String("deal_id", event.DealID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func (f *Follower) observe(deal domain.Deal, price decimal.Decimal) {
	if f.observer == nil {
		return
	}
	f.observer.Observe(domain.NewDealProgress(deal, price, f.now()))
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
