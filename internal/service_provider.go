package internal

import (
	"fmt"
	"strings"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcaladder/internal/clients"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/services/exchange"
	"github.com/vadiminshakov/dcaladder/internal/storage/simstate"
)

// ExchangeProvider builds the exchange a deal trades on. Live adapters are
// shared per venue; sandboxes are shared per scope (the bot id) so successive
// deals of a bot keep spending the same simulated wallet.
type ExchangeProvider struct {
	l                *zap.Logger
	creds            clients.Credentials
	sandboxDir       string
	callTimeout      time.Duration
	hyperliquidRules domain.MarketRules

	mu        sync.Mutex
	venues    map[string]exchange.Exchange
	sandboxes map[string]exchange.Exchange
}

func NewExchangeProvider(l *zap.Logger, creds clients.Credentials, sandboxDir string, callTimeout time.Duration, hyperliquidRules domain.MarketRules) *ExchangeProvider {
	return &ExchangeProvider{
		l:                l,
		creds:            creds,
		sandboxDir:       sandboxDir,
		callTimeout:      callTimeout,
		hyperliquidRules: hyperliquidRules,
		venues:           make(map[string]exchange.Exchange),
		sandboxes:        make(map[string]exchange.Exchange),
	}
}

// Exchange returns the exchange for a deal configured by cfg.
func (p *ExchangeProvider) Exchange(cfg domain.DealConfig, scope string) (exchange.Exchange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := strings.ToLower(strings.TrimSpace(cfg.Exchange))

	if !cfg.Sandbox {
		if ex, ok := p.venues[name]; ok {
			return ex, nil
		}

		client, err := p.client(name, false)
		if err != nil {
			return nil, err
		}
		ex, err := p.newExchange(client)
		if err != nil {
			return nil, err
		}

		ex = exchange.WithTimeout(ex, p.callTimeout)
		p.venues[name] = ex

		return ex, nil
	}

	key := name + "/" + scope
	if ex, ok := p.sandboxes[key]; ok {
		return ex, nil
	}

	client, err := p.client(name, true)
	if err != nil {
		return nil, err
	}
	market, err := p.newExchange(client)
	if err != nil {
		return nil, err
	}

	store, err := simstate.NewStore(p.sandboxDir, cfg.Pair, name+"_"+scope)
	if err != nil {
		return nil, err
	}

	sandbox, err := exchange.NewSandbox(p.l.With(zap.String("sandbox", key)), exchange.WithTimeout(market, p.callTimeout), cfg.Pair, cfg.SandboxWallet, store)
	if err != nil {
		return nil, err
	}
	p.sandboxes[key] = sandbox

	return sandbox, nil
}

// client creates the SDK client for a venue. Public clients carry no
// credentials and only serve market data to a sandbox.
func (p *ExchangeProvider) client(name string, public bool) (any, error) {
	switch name {
	case exchange.NameBinance:
		if public {
			return clients.NewPublicBinanceClient(), nil
		}
		return clients.NewBinanceClient(p.creds.BinanceAPIKey, p.creds.BinanceAPISecret)
	case exchange.NameBybit:
		if public {
			return clients.NewPublicBybitClient(), nil
		}
		return clients.NewBybitClient(p.creds.BybitAPIKey, p.creds.BybitAPISecret)
	case exchange.NameHyperliquid:
		if public {
			return clients.NewPublicHyperliquidClient(p.creds.HyperliquidBaseURL)
		}
		if p.creds.HyperliquidPrivateKey == "" {
			return nil, errors.Wrap(domain.ErrConfig, "HYPERLIQUID_PRIVATE_KEY must be set")
		}
		return clients.NewHyperliquidClient(p.creds.HyperliquidPrivateKey, p.creds.HyperliquidBaseURL)
	default:
		return nil, errors.Wrapf(domain.ErrConfig, "unsupported exchange: %s", name)
	}
}

// newExchange is the single point dispatching an SDK client to its adapter.
func (p *ExchangeProvider) newExchange(client any) (exchange.Exchange, error) {
	switch c := client.(type) {
	case *binance.Client:
		return exchange.NewBinance(c), nil
	case *bybit.Client:
		return exchange.NewBybit(c), nil
	case *clients.HyperliquidClient:
		return exchange.NewHyperliquid(c.Exchange(), c.AccountAddress(), p.hyperliquidRules)
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}
