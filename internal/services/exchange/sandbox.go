package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/storage/simstate"
	"go.uber.org/zap"
)

// Sandbox simulates order execution against live quotes from market. Buys
// fill at the ask, sells at the bid. The wallet and every simulated order
// survive restarts through the state store.
type Sandbox struct {
	mu     sync.Mutex
	market Exchange
	pair   domain.Pair
	l      *zap.Logger
	wallet map[string]decimal.Decimal
	orders map[string]domain.OrderResult
	store  *simstate.Store
	now    func() time.Time
}

// NewSandbox creates a sandbox for pair funded with quoteWallet units of the
// quote asset, unless a previous state is found in store.
func NewSandbox(l *zap.Logger, market Exchange, pair domain.Pair, quoteWallet decimal.Decimal, store *simstate.Store) (*Sandbox, error) {
	if market == nil {
		return nil, errors.New("sandbox requires a market data source")
	}
	if l == nil {
		l = zap.NewNop()
	}

	s := &Sandbox{
		market: market,
		pair:   pair,
		l:      l,
		wallet: map[string]decimal.Decimal{pair.From: decimal.Zero, pair.To: quoteWallet},
		orders: make(map[string]domain.OrderResult),
		store:  store,
		now:    time.Now,
	}

	state, err := store.Load()
	if err != nil {
		l.Warn("failed to restore sandbox state", zap.Error(err))
	}
	if state != nil {
		s.wallet = state.Wallet
		s.orders = state.Orders
	}

	l.Info("sandbox init",
		zap.String("pair", pair.String()),
		zap.String("base", s.wallet[pair.From].String()),
		zap.String("quote", s.wallet[pair.To].String()))

	return s, nil
}

func (s *Sandbox) Name() string { return s.market.Name() }

func (s *Sandbox) FetchTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error) {
	return s.market.FetchTicker(ctx, pair)
}

func (s *Sandbox) MarketRules(ctx context.Context, pair domain.Pair) (domain.MarketRules, error) {
	return s.market.MarketRules(ctx, pair)
}

func (s *Sandbox) FetchBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wallet[asset], nil
}

func (s *Sandbox) CreateMarketBuyOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return s.execute(ctx, domain.ActionBuy, req)
}

func (s *Sandbox) CreateMarketSellOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return s.execute(ctx, domain.ActionSell, req)
}

func (s *Sandbox) execute(ctx context.Context, side domain.Action, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Pair != s.pair {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrInvalidSymbol, "sandbox trades %s, got %s", s.pair, req.Pair)
	}
	if !req.Quantity.IsPositive() {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrOrderRejected, "quantity must be positive, got %s", req.Quantity)
	}

	s.mu.Lock()
	if existing, ok := s.orders[req.ClientOrderID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	ticker, err := s.market.FetchTicker(ctx, req.Pair)
	if err != nil {
		return domain.OrderResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base, quote := s.wallet[s.pair.From], s.wallet[s.pair.To]

	var price decimal.Decimal
	switch side {
	case domain.ActionBuy:
		price = ticker.Ask
		cost := req.Quantity.Mul(price)
		if cost.GreaterThan(quote) {
			return domain.OrderResult{}, errors.Wrapf(domain.ErrInsufficientFunds, "need %s %s, have %s", cost, s.pair.To, quote)
		}
		s.wallet[s.pair.To] = quote.Sub(cost)
		s.wallet[s.pair.From] = base.Add(req.Quantity)
	case domain.ActionSell:
		price = ticker.Bid
		if req.Quantity.GreaterThan(base) {
			return domain.OrderResult{}, errors.Wrapf(domain.ErrInsufficientFunds, "need %s %s, have %s", req.Quantity, s.pair.From, base)
		}
		s.wallet[s.pair.From] = base.Sub(req.Quantity)
		s.wallet[s.pair.To] = quote.Add(req.Quantity.Mul(price))
	}

	result := domain.OrderResult{
		ClientOrderID: req.ClientOrderID,
		ExchangeID:    "sandbox-" + req.ClientOrderID,
		Status:        domain.OrderStatusFilled,
		FilledQty:     req.Quantity,
		AvgPrice:      price,
		UpdatedAt:     s.now(),
	}
	s.orders[req.ClientOrderID] = result

	if err := s.persist(); err != nil {
		// roll back so memory matches disk
		delete(s.orders, req.ClientOrderID)
		s.wallet[s.pair.From], s.wallet[s.pair.To] = base, quote

		return domain.OrderResult{}, err
	}

	s.l.Info("sandbox order filled",
		zap.String("side", side.String()),
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("quantity", req.Quantity.String()),
		zap.String("price", price.String()),
		zap.String("base", s.wallet[s.pair.From].String()),
		zap.String("quote", s.wallet[s.pair.To].String()))

	return result, nil
}

func (s *Sandbox) FetchOrder(_ context.Context, _ domain.Pair, clientOrderID string) (domain.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.orders[clientOrderID]
	if !ok {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrOrderNotFound, "sandbox order %s", clientOrderID)
	}

	return result, nil
}

func (s *Sandbox) persist() error {
	return s.store.Save(simstate.State{
		Wallet: s.wallet,
		Orders: s.orders,
		Pair:   s.pair.String(),
	})
}
