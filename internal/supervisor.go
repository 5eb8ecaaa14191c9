package internal

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/metrics"
	"github.com/vadiminshakov/dcaladder/internal/report"
	"github.com/vadiminshakov/dcaladder/internal/services/exchange"
	"github.com/vadiminshakov/dcaladder/internal/services/ladder"
	"github.com/vadiminshakov/dcaladder/internal/services/strategy/dca"
	"github.com/vadiminshakov/dcaladder/internal/storage/deals"
	"github.com/vadiminshakov/dcaladder/pkg/retrier"
)

const (
	defaultResumeStagger    = 1 * time.Second
	defaultStaleAfter       = 3 * time.Minute
	defaultWatchdogInterval = 1 * time.Minute
)

// errDealIDTaken a deal with the same id (pair and second) already exists.
var errDealIDTaken = errors.New("deal id taken")

type exchangeProvider interface {
	Exchange(cfg domain.DealConfig, scope string) (exchange.Exchange, error)
}

type dealStore interface {
	Create(deal domain.Deal) error
	Get(id string) (domain.Deal, error)
	Save(deal domain.Deal) error
	FindOpen(pair domain.Pair) (domain.Deal, bool, error)
	FindAll(filter deals.Filter) ([]domain.Deal, error)
}

type botRegistry interface {
	Register(bot domain.Bot) (domain.Bot, error)
	Get(id string) (domain.Bot, error)
	IsActive(id string) (bool, error)
	SetActive(id string, active bool) error
}

type eventJournal interface {
	Append(event domain.DealEvent) error
}

type progressObserver interface {
	Observe(progress domain.DealProgress)
	Forget(dealID string)
}

// BotSpec describes a bot to start. An empty ID gets a random one. DealCount
// numbers the first deal of a bot without stored deals (zero means 1).
type BotSpec struct {
	ID        string
	Name      string
	Config    domain.DealConfig
	DealMax   int
	DealCount int
}

// SupervisorConfig timing of the supervisor and of the loops it starts.
type SupervisorConfig struct {
	Follower dca.Config
	// ResumeStagger pause between resumed deals.
	ResumeStagger time.Duration
	// StaleAfter a running deal without a tick for this long is reported.
	StaleAfter       time.Duration
	WatchdogInterval time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.ResumeStagger <= 0 {
		c.ResumeStagger = defaultResumeStagger
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = defaultWatchdogInterval
	}

	return c
}

// DealTracker live view of a deal driven by the supervisor.
type DealTracker struct {
	DealID    string
	BotID     string
	BotName   string
	Pair      domain.Pair
	Exchange  string
	StartedAt time.Time
	// LastTick zero until the loop has read the market once.
	LastTick time.Time
	Progress domain.DealProgress
}

// Plan is a calculated ladder together with the funds available for it.
type Plan struct {
	Orders  []domain.OrderPlan
	Summary ladder.Summary
	Balance decimal.Decimal
	// BalanceKnown is false when the balance could not be fetched.
	BalanceKnown bool
}

// EnoughFunds reports whether the balance covers every rung.
func (p Plan) EnoughFunds() bool {
	return !p.BalanceKnown || ladder.HasEnoughFunds(p.Orders, p.Balance)
}

// Supervisor owns the set of running deals. It starts one reconciliation
// loop per open deal, resumes open deals after a restart and chains a
// successor deal when a loop finishes.
type Supervisor struct {
	l         *zap.Logger
	deals     dealStore
	bots      botRegistry
	exchanges exchangeProvider
	journal   eventJournal
	observer  progressObserver
	out       io.Writer
	cfg       SupervisorConfig
	now       func() time.Time
	retrier   *retrier.Retrier

	mu      sync.RWMutex
	running map[string]*DealTracker
	wg      sync.WaitGroup
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithJournal records deal lifecycle events.
func WithJournal(j eventJournal) SupervisorOption {
	return func(s *Supervisor) {
		s.journal = j
	}
}

// WithProgressObserver receives the progress of every tick.
func WithProgressObserver(o progressObserver) SupervisorOption {
	return func(s *Supervisor) {
		s.observer = o
	}
}

// WithReportWriter prints the ladder of every new deal to w.
func WithReportWriter(w io.Writer) SupervisorOption {
	return func(s *Supervisor) {
		s.out = w
	}
}

// WithClock overrides time.Now for the supervisor and its loops.
func WithClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) {
		s.now = now
	}
}

// WithRetrier overrides the retry policy of successor creation.
func WithRetrier(r *retrier.Retrier) SupervisorOption {
	return func(s *Supervisor) {
		s.retrier = r
	}
}

func NewSupervisor(l *zap.Logger, dealStore dealStore, bots botRegistry, exchanges exchangeProvider, cfg SupervisorConfig, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		l:         l,
		deals:     dealStore,
		bots:      bots,
		exchanges: exchanges,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		running:   make(map[string]*DealTracker),
		retrier: retrier.New(
			retrier.WithInitialInterval(time.Second),
			retrier.WithMaxInterval(time.Minute),
			retrier.WithMaxRetries(10),
			retrier.WithRetryIf(isRetryableStartErr),
			retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
				l.Warn("successor deal start failed, retrying",
					zap.Int("attempt", attempt),
					zap.Duration("wait", wait),
					zap.Error(err))
			}),
		),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func isRetryableStartErr(err error) bool {
	return !errors.Is(err, domain.ErrConfig) &&
		!errors.Is(err, domain.ErrInvalidOrderSize) &&
		!errors.Is(err, domain.ErrBotInactive) &&
		!errors.Is(err, domain.ErrDealLimitReached) &&
		!errors.Is(err, domain.ErrBotNotFound)
}

// Resume starts a loop for every open deal in the store, one deal per
// ResumeStagger. Deals that cannot be resumed are logged and skipped.
func (s *Supervisor) Resume(ctx context.Context) error {
	open, err := s.deals.FindAll(deals.Filter{Status: domain.DealStatusOpen})
	if err != nil {
		return errors.Wrap(err, "load open deals")
	}

	s.l.Info("resuming open deals", zap.Int("count", len(open)))

	for i, deal := range open {
		if i > 0 && !sleep(ctx, s.cfg.ResumeStagger) {
			return nil
		}

		if err := s.resume(ctx, deal); err != nil {
			s.l.Error("failed to resume deal",
				zap.String("deal_id", deal.ID),
				zap.String("pair", deal.Pair.String()),
				zap.Error(err))
		}
	}

	return nil
}

func (s *Supervisor) resume(ctx context.Context, deal domain.Deal) error {
	if s.isRunning(deal.ID) {
		return nil
	}

	ex, err := s.exchanges.Exchange(deal.Config, deal.BotID)
	if err != nil {
		return err
	}

	s.record(domain.DealEvent{
		Time:    s.now(),
		DealID:  deal.ID,
		BotID:   deal.BotID,
		Pair:    deal.Pair.String(),
		Type:    domain.DealEventResumed,
		Message: fmt.Sprintf("deal %d of %d, %d/%d safety orders used", deal.DealCount, deal.DealMax, deal.SafetyOrdersUsed(), deal.MaxSafetyOrders()),
	})
	metrics.DealsStarted.WithLabelValues(deal.Pair.String(), "resumed").Inc()

	s.l.Info("deal resumed",
		zap.String("deal_id", deal.ID),
		zap.String("bot_id", deal.BotID),
		zap.String("pair", deal.Pair.String()),
		zap.String("state", deal.State().String()))

	s.launch(ctx, deal, ex)

	return nil
}

// Start registers the bot of spec and starts its next deal, continuing the
// sequence recorded in the deal store. When the pair already has an open deal
// that deal is resumed and returned instead. A bot whose last deal closed at
// its limit gets ErrDealLimitReached.
func (s *Supervisor) Start(ctx context.Context, spec BotSpec) (domain.Deal, error) {
	if strings.TrimSpace(spec.ID) == "" {
		spec.ID = uuid.NewString()
	}
	if spec.DealCount < 1 {
		spec.DealCount = 1
	}
	if err := spec.Config.Validate(); err != nil {
		return domain.Deal{}, err
	}

	bot, err := s.bots.Register(domain.Bot{
		ID:      spec.ID,
		Name:    spec.Name,
		Config:  spec.Config,
		DealMax: spec.DealMax,
	})
	if err != nil {
		return domain.Deal{}, errors.Wrapf(err, "register bot %s", spec.ID)
	}

	dealCount, err := s.nextDealCount(bot, spec.DealCount)
	if err != nil {
		return domain.Deal{}, err
	}

	return s.startDeal(ctx, bot, dealCount)
}

// nextDealCount continues the bot's deal sequence from the store, so a
// restart neither resets the count nor goes past DealMax. fallback is used
// for a bot without deals.
func (s *Supervisor) nextDealCount(bot domain.Bot, fallback int) (int, error) {
	history, err := s.deals.FindAll(deals.Filter{BotID: bot.ID})
	if err != nil {
		return 0, errors.Wrapf(err, "load deals of bot %s", bot.ID)
	}
	if len(history) == 0 {
		return fallback, nil
	}

	last := history[0]
	for _, d := range history[1:] {
		if d.DealCount > last.DealCount {
			last = d
		}
	}

	// an open deal is resumed as is
	if last.IsOpen() {
		return last.DealCount, nil
	}
	if !domain.ShouldContinue(last.DealCount, bot.DealMax) {
		return 0, errors.Wrapf(domain.ErrDealLimitReached, "bot %s closed deal %d of %d", bot.ID, last.DealCount, bot.DealMax)
	}

	return last.DealCount + 1, nil
}

// Preview calculates the ladder the bot would trade now without creating a
// deal.
func (s *Supervisor) Preview(ctx context.Context, spec BotSpec) (Plan, error) {
	if err := spec.Config.Validate(); err != nil {
		return Plan{}, err
	}

	ex, err := s.exchanges.Exchange(spec.Config, spec.ID)
	if err != nil {
		return Plan{}, err
	}

	return s.plan(ctx, ex, spec.Config)
}

// StopBot deactivates a bot. Its running deal continues until it closes but
// no successor follows.
func (s *Supervisor) StopBot(id string) error {
	if err := s.bots.SetActive(id, false); err != nil {
		return errors.Wrapf(err, "stop bot %s", id)
	}
	s.l.Info("bot stopped", zap.String("bot_id", id))

	return nil
}

// Active returns a copy of every running deal ordered by deal id.
func (s *Supervisor) Active() []DealTracker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DealTracker, 0, len(s.running))
	for _, t := range s.running {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DealID < out[j].DealID })

	return out
}

// Wait blocks until every loop has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Observe records the progress of a running deal and forwards it.
func (s *Supervisor) Observe(p domain.DealProgress) {
	s.mu.Lock()
	if t, ok := s.running[p.DealID]; ok {
		t.LastTick = p.UpdatedAt
		t.Progress = p
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.Observe(p)
	}
}

func (s *Supervisor) startDeal(ctx context.Context, bot domain.Bot, dealCount int) (domain.Deal, error) {
	cfg := bot.Config

	if existing, ok, err := s.deals.FindOpen(cfg.Pair); err != nil {
		return domain.Deal{}, err
	} else if ok {
		s.l.Info("pair already has an open deal, resuming it",
			zap.String("pair", cfg.Pair.String()),
			zap.String("deal_id", existing.ID))

		return existing, s.resume(ctx, existing)
	}

	if !bot.Active {
		return domain.Deal{}, errors.Wrapf(domain.ErrBotInactive, "bot %s", bot.ID)
	}

	ex, err := s.exchanges.Exchange(cfg, bot.ID)
	if err != nil {
		return domain.Deal{}, err
	}

	plan, err := s.plan(ctx, ex, cfg)
	if err != nil {
		return domain.Deal{}, err
	}

	deal, err := domain.NewDeal(bot.ID, bot.Name, cfg, plan.Orders, dealCount, bot.DealMax, s.now())
	if err != nil {
		return domain.Deal{}, err
	}

	if err := s.deals.Create(deal); err != nil {
		if !errors.Is(err, domain.ErrOpenDealExists) {
			return domain.Deal{}, errors.Wrapf(err, "create deal %s", deal.ID)
		}

		existing, ok, findErr := s.deals.FindOpen(cfg.Pair)
		if findErr != nil {
			return domain.Deal{}, findErr
		}
		if !ok {
			return domain.Deal{}, errors.Wrapf(errDealIDTaken, "deal %s", deal.ID)
		}

		s.l.Info("another deal took the pair first, resuming it",
			zap.String("pair", cfg.Pair.String()),
			zap.String("deal_id", existing.ID))

		return existing, s.resume(ctx, existing)
	}

	s.record(domain.DealEvent{
		Time:     deal.CreatedAt,
		DealID:   deal.ID,
		BotID:    deal.BotID,
		Pair:     deal.Pair.String(),
		Type:     domain.DealEventCreated,
		OrderNo:  1,
		Price:    deal.Orders[0].Price,
		Quantity: deal.Orders[0].Quantity,
		Message:  fmt.Sprintf("deal %d of %d, max funds %s", deal.DealCount, deal.DealMax, plan.Summary.MaxFunds),
	})
	metrics.DealsStarted.WithLabelValues(deal.Pair.String(), "created").Inc()

	s.l.Info("deal created",
		zap.String("deal_id", deal.ID),
		zap.String("bot_id", bot.ID),
		zap.String("pair", deal.Pair.String()),
		zap.Int("deal_count", deal.DealCount),
		zap.Int("deal_max", deal.DealMax),
		zap.String("entry_price", deal.Orders[0].Price.String()),
		zap.String("max_funds", plan.Summary.MaxFunds.String()))

	s.launch(ctx, deal, ex)

	return deal, nil
}

// plan computes the ladder of cfg at the current ask and checks the quote
// balance against it. A short balance is reported, not refused.
func (s *Supervisor) plan(ctx context.Context, ex exchange.Exchange, cfg domain.DealConfig) (Plan, error) {
	rules, err := ex.MarketRules(ctx, cfg.Pair)
	if err != nil {
		return Plan{}, errors.Wrapf(err, "load market rules for %s", cfg.Pair)
	}

	ticker, err := ex.FetchTicker(ctx, cfg.Pair)
	if err != nil {
		return Plan{}, errors.Wrapf(err, "fetch ticker for %s", cfg.Pair)
	}

	orders, err := ladder.Calculate(cfg, cfg.EntryPrice(ticker.Ask), rules)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Orders: orders, Summary: ladder.Summarize(orders)}

	balance, err := ex.FetchBalance(ctx, cfg.Pair.To)
	if err != nil {
		s.l.Warn("failed to fetch balance",
			zap.String("pair", cfg.Pair.String()),
			zap.String("asset", cfg.Pair.To),
			zap.Error(err))
	} else {
		plan.Balance = balance
		plan.BalanceKnown = true
	}

	if s.out != nil {
		fmt.Fprintln(s.out, report.Ladder(fmt.Sprintf("%s %s ladder", cfg.Exchange, cfg.Pair), orders))
		if plan.BalanceKnown {
			if warning := report.FundsWarning(plan.Balance, plan.Summary.MaxFunds); warning != "" {
				fmt.Fprintln(s.out, warning)
			}
		}
	}

	if !plan.EnoughFunds() {
		s.l.Warn(report.InsufficientFunds,
			zap.String("pair", cfg.Pair.String()),
			zap.String("balance", plan.Balance.String()),
			zap.String("max_funds", plan.Summary.MaxFunds.String()))
	}

	return plan, nil
}

// launch registers deal and drives it in its own goroutine.
func (s *Supervisor) launch(ctx context.Context, deal domain.Deal, ex exchange.Exchange) {
	s.mu.Lock()
	if _, ok := s.running[deal.ID]; ok {
		s.mu.Unlock()
		return
	}
	s.running[deal.ID] = &DealTracker{
		DealID:    deal.ID,
		BotID:     deal.BotID,
		BotName:   deal.BotName,
		Pair:      deal.Pair,
		Exchange:  deal.Exchange,
		StartedAt: s.now(),
	}
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.RunningDeals.Inc()

	opts := []dca.Option{dca.WithObserver(s), dca.WithClock(s.now)}
	if s.journal != nil {
		opts = append(opts, dca.WithJournal(s.journal))
	}

	l := s.l.With(zap.String("deal_id", deal.ID), zap.String("pair", deal.Pair.String()))
	follower := dca.NewFollower(l, ex, s.deals, s.cfg.Follower, opts...)

	go func() {
		defer s.wg.Done()

		finished, err := follower.Run(ctx, deal.ID)
		s.remove(deal.ID)

		switch {
		case err != nil:
			l.Error("deal loop stopped", zap.Error(err))
		case finished:
			s.continueBot(ctx, deal)
		default:
			l.Info("deal loop stopped on shutdown")
		}
	}()
}

// continueBot starts the successor of a closed deal when the bot is still
// active and below its deal limit.
func (s *Supervisor) continueBot(ctx context.Context, closed domain.Deal) {
	if ctx.Err() != nil {
		return
	}

	l := s.l.With(zap.String("bot_id", closed.BotID), zap.String("pair", closed.Pair.String()))

	bot, err := s.bots.Get(closed.BotID)
	if err != nil {
		l.Error("failed to load bot, no successor deal", zap.Error(err))
		return
	}
	if !bot.Active {
		l.Info("bot is inactive, no successor deal", zap.String("deal_id", closed.ID))
		return
	}
	if !domain.ShouldContinue(closed.DealCount, bot.DealMax) {
		l.Info("bot reached its deal limit",
			zap.Int("deal_count", closed.DealCount),
			zap.Int("deal_max", bot.DealMax))
		return
	}

	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := s.startDeal(ctx, bot, closed.DealCount+1)
		return err
	})
	if err != nil && ctx.Err() == nil {
		l.Error("failed to start successor deal",
			zap.Int("deal_count", closed.DealCount+1),
			zap.Error(err))
	}
}

func (s *Supervisor) isRunning(dealID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.running[dealID]

	return ok
}

func (s *Supervisor) remove(dealID string) {
	s.mu.Lock()
	_, ok := s.running[dealID]
	delete(s.running, dealID)
	s.mu.Unlock()

	if ok {
		metrics.RunningDeals.Dec()
	}
	if s.observer != nil {
		s.observer.Forget(dealID)
	}
}

func (s *Supervisor) record(event domain.DealEvent) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(event); err != nil {
		s.l.Error("failed to journal deal event",
			zap.String("deal_id", event.DealID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
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
