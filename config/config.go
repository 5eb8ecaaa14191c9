// Package config loads the YAML configuration of the deal engine: engine
// timing, storage, logging, the dashboard and the list of bots to run.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/dcaladder/internal/domain"
)

const (
	defaultDataDir              = "data"
	defaultPollInterval         = 2 * time.Second
	defaultEntryPollInterval    = 1 * time.Second
	defaultRetryInterval        = 1 * time.Second
	defaultCallTimeout          = 10 * time.Second
	defaultMaxExecutionFailures = 5
	defaultOrderLookupGrace     = 30 * time.Second
	defaultResumeStagger        = 1 * time.Second
	defaultStaleAfter           = 3 * time.Minute
	defaultWatchdogInterval     = 1 * time.Minute
	defaultWebAddr              = ":8080"
	defaultCertCacheDir         = "cert-cache"
	defaultLogMaxSizeMB         = 10
	defaultLogMaxBackups        = 3
	defaultLogMaxAgeDays        = 28
)

type Config struct {
	DataDir string
	Log     LogConfig
	Engine  EngineConfig
	Web     WebConfig
	// HyperliquidRules precision applied to Hyperliquid pairs, which the
	// venue does not report per spot pair.
	HyperliquidRules domain.MarketRules
	Bots             []BotConfig
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// EngineConfig timing of the reconciliation loops and the supervisor.
type EngineConfig struct {
	PollInterval         time.Duration
	EntryPollInterval    time.Duration
	RetryInterval        time.Duration
	CallTimeout          time.Duration
	MaxExecutionFailures int
	OrderLookupGrace     time.Duration
	ResumeStagger        time.Duration
	StaleAfter           time.Duration
	WatchdogInterval     time.Duration
}

type WebConfig struct {
	Addr string
	// Domain enables automatic TLS for the given host names (comma separated).
	Domain   string
	CacheDir string
	Disabled bool
}

// Domains returns the configured TLS host names.
func (w WebConfig) Domains() []string {
	var out []string
	for _, d := range strings.Split(w.Domain, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}

	return out
}

// BotConfig one bot of the configuration file.
type BotConfig struct {
	ID      string
	Name    string
	DealMax int
	Deal    domain.DealConfig
}

type ConfigTmp struct {
	DataDir     string         `yaml:"data_dir,omitempty"`
	Log         LogTmp         `yaml:"log,omitempty"`
	Engine      EngineTmp      `yaml:"engine,omitempty"`
	Web         WebTmp         `yaml:"web,omitempty"`
	Hyperliquid HyperliquidTmp `yaml:"hyperliquid,omitempty"`
	Bots        []BotTmp       `yaml:"bots"`
}

type LogTmp struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

type EngineTmp struct {
	PollInterval         time.Duration `yaml:"poll_interval,omitempty"`
	EntryPollInterval    time.Duration `yaml:"entry_poll_interval,omitempty"`
	RetryInterval        time.Duration `yaml:"retry_interval,omitempty"`
	CallTimeout          time.Duration `yaml:"call_timeout,omitempty"`
	MaxExecutionFailures string        `yaml:"max_execution_failures,omitempty"`
	OrderLookupGrace     time.Duration `yaml:"order_lookup_grace,omitempty"`
	ResumeStagger        time.Duration `yaml:"resume_stagger,omitempty"`
	StaleAfter           time.Duration `yaml:"stale_after,omitempty"`
	WatchdogInterval     time.Duration `yaml:"watchdog_interval,omitempty"`
}

type WebTmp struct {
	Addr     string `yaml:"addr,omitempty"`
	Domain   string `yaml:"domain,omitempty"`
	CacheDir string `yaml:"cache_dir,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

type HyperliquidTmp struct {
	PriceTick  string `yaml:"price_tick,omitempty"`
	AmountStep string `yaml:"amount_step,omitempty"`
	MinAmount  string `yaml:"min_amount,omitempty"`
}

type BotTmp struct {
	ID                   string `yaml:"id,omitempty"`
	Name                 string `yaml:"name,omitempty"`
	Pair                 string `yaml:"pair"`
	Exchange             string `yaml:"exchange"`
	FirstOrderAmount     string `yaml:"first_order_amount"`
	FirstOrderType       string `yaml:"first_order_type,omitempty"`
	FirstOrderLimitPrice string `yaml:"first_order_limit_price,omitempty"`
	SafetyOrders         string `yaml:"safety_orders,omitempty"`
	SafetyOrderAmount    string `yaml:"safety_order_amount,omitempty"`
	StartDistancePercent string `yaml:"start_distance_percent,omitempty"`
	StepPercent          string `yaml:"step_percent,omitempty"`
	StepMultiplier       string `yaml:"step_multiplier,omitempty"`
	SizeMultiplier       string `yaml:"size_multiplier,omitempty"`
	TakeProfitPercent    string `yaml:"take_profit_percent"`
	DealMax              string `yaml:"deal_max,omitempty"`
	Sandbox              bool   `yaml:"sandbox,omitempty"`
	SandboxWallet        string `yaml:"sandbox_wallet,omitempty"`
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	return Parse(data)
}

// Parse parses a YAML configuration and applies defaults.
func Parse(data []byte) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrapf(domain.ErrConfig, "parse yaml: %v", err)
	}

	cfg := Config{
		DataDir: orDefault(tmp.DataDir, defaultDataDir),
		Log: LogConfig{
			Level:      orDefault(tmp.Log.Level, "info"),
			File:       tmp.Log.File,
			MaxSizeMB:  intOrDefault(tmp.Log.MaxSizeMB, defaultLogMaxSizeMB),
			MaxBackups: intOrDefault(tmp.Log.MaxBackups, defaultLogMaxBackups),
			MaxAgeDays: intOrDefault(tmp.Log.MaxAgeDays, defaultLogMaxAgeDays),
		},
		Web: WebConfig{
			Addr:     orDefault(tmp.Web.Addr, defaultWebAddr),
			Domain:   tmp.Web.Domain,
			CacheDir: orDefault(tmp.Web.CacheDir, defaultCertCacheDir),
			Disabled: tmp.Web.Disabled,
		},
	}

	engine, err := parseEngine(tmp.Engine)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine = engine

	cfg.HyperliquidRules, err = parseHyperliquid(tmp.Hyperliquid)
	if err != nil {
		return Config{}, err
	}

	seen := make(map[string]string, len(tmp.Bots))
	for i, b := range tmp.Bots {
		bot, err := ParseBot(b)
		if err != nil {
			return Config{}, errors.Wrapf(err, "bot #%d", i+1)
		}

		// one open deal per pair means two bots on a pair would starve each other
		if other, ok := seen[bot.Deal.Pair.String()]; ok {
			return Config{}, errors.Wrapf(domain.ErrConfig, "bots %q and %q trade the same pair %s", other, bot.Name, bot.Deal.Pair)
		}
		seen[bot.Deal.Pair.String()] = bot.Name

		cfg.Bots = append(cfg.Bots, bot)
	}

	return cfg, nil
}

func parseEngine(t EngineTmp) (EngineConfig, error) {
	e := EngineConfig{
		PollInterval:         durationOrDefault(t.PollInterval, defaultPollInterval),
		EntryPollInterval:    durationOrDefault(t.EntryPollInterval, defaultEntryPollInterval),
		RetryInterval:        durationOrDefault(t.RetryInterval, defaultRetryInterval),
		CallTimeout:          durationOrDefault(t.CallTimeout, defaultCallTimeout),
		MaxExecutionFailures: defaultMaxExecutionFailures,
		OrderLookupGrace:     durationOrDefault(t.OrderLookupGrace, defaultOrderLookupGrace),
		ResumeStagger:        durationOrDefault(t.ResumeStagger, defaultResumeStagger),
		StaleAfter:           durationOrDefault(t.StaleAfter, defaultStaleAfter),
		WatchdogInterval:     durationOrDefault(t.WatchdogInterval, defaultWatchdogInterval),
	}

	if t.MaxExecutionFailures != "" {
		n, err := strconv.Atoi(t.MaxExecutionFailures)
		if err != nil || n < 1 {
			return EngineConfig{}, errors.Wrapf(domain.ErrConfig,
				"incorrect 'max_execution_failures' param %q (must be a positive integer)", t.MaxExecutionFailures)
		}
		e.MaxExecutionFailures = n
	}

	return e, nil
}

func parseHyperliquid(t HyperliquidTmp) (domain.MarketRules, error) {
	var (
		rules domain.MarketRules
		err   error
	)
	if rules.PriceTick, err = decimalParam("price_tick", t.PriceTick, "0"); err != nil {
		return domain.MarketRules{}, err
	}
	if rules.AmountStep, err = decimalParam("amount_step", t.AmountStep, "0"); err != nil {
		return domain.MarketRules{}, err
	}
	if rules.MinAmount, err = decimalParam("min_amount", t.MinAmount, "0"); err != nil {
		return domain.MarketRules{}, err
	}

	return rules, nil
}

// ParseBot converts one YAML bot entry into a validated bot config.
func ParseBot(b BotTmp) (BotConfig, error) {
	pair, err := domain.ParsePair(b.Pair)
	if err != nil {
		return BotConfig{}, errors.Wrapf(err, "incorrect 'pair' param in yaml config: %s", b.Pair)
	}

	exchange := strings.ToLower(strings.TrimSpace(b.Exchange))

	kind, err := domain.ParseOrderKind(b.FirstOrderType)
	if err != nil {
		return BotConfig{}, err
	}

	deal := domain.DealConfig{
		Pair:           pair,
		Exchange:       exchange,
		FirstOrderType: kind,
		Sandbox:        b.Sandbox,
	}

	if deal.FirstOrderAmount, err = decimalParam("first_order_amount", b.FirstOrderAmount, ""); err != nil {
		return BotConfig{}, err
	}
	if deal.FirstOrderLimitPrice, err = decimalParam("first_order_limit_price", b.FirstOrderLimitPrice, "0"); err != nil {
		return BotConfig{}, err
	}
	if deal.SafetyOrders, err = intParam("safety_orders", b.SafetyOrders, 0); err != nil {
		return BotConfig{}, err
	}
	if deal.SafetyOrderAmount, err = decimalParam("safety_order_amount", b.SafetyOrderAmount, "0"); err != nil {
		return BotConfig{}, err
	}
	if deal.StartDistancePercent, err = decimalParam("start_distance_percent", b.StartDistancePercent, "0"); err != nil {
		return BotConfig{}, err
	}
	if deal.StepPercent, err = decimalParam("step_percent", b.StepPercent, "0"); err != nil {
		return BotConfig{}, err
	}
	if deal.StepMultiplier, err = decimalParam("step_multiplier", b.StepMultiplier, "1"); err != nil {
		return BotConfig{}, err
	}
	if deal.SizeMultiplier, err = decimalParam("size_multiplier", b.SizeMultiplier, "1"); err != nil {
		return BotConfig{}, err
	}
	if deal.TakeProfitPercent, err = decimalParam("take_profit_percent", b.TakeProfitPercent, ""); err != nil {
		return BotConfig{}, err
	}
	if deal.SandboxWallet, err = decimalParam("sandbox_wallet", b.SandboxWallet, "1000"); err != nil {
		return BotConfig{}, err
	}

	dealMax, err := intParam("deal_max", b.DealMax, 0)
	if err != nil {
		return BotConfig{}, err
	}
	if dealMax < 0 {
		return BotConfig{}, errors.Wrapf(domain.ErrConfig, "deal_max must be >= 0, got %d", dealMax)
	}

	if err := deal.Validate(); err != nil {
		return BotConfig{}, err
	}

	name := strings.TrimSpace(b.Name)
	if name == "" {
		name = fmt.Sprintf("%s %s", exchange, pair)
	}

	id := strings.TrimSpace(b.ID)
	if id == "" {
		id = BotID(exchange, pair, b.Sandbox)
	}

	return BotConfig{ID: id, Name: name, DealMax: dealMax, Deal: deal}, nil
}

// BotID derives a stable bot id from what identifies a bot in a config file,
// so a restart finds the same bot record.
func BotID(exchange string, pair domain.Pair, sandbox bool) string {
	key := fmt.Sprintf("%s|%s|%t", exchange, pair, sandbox)

	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func decimalParam(name, value, def string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if def == "" {
			return decimal.Decimal{}, errors.Wrapf(domain.ErrConfig, "'%s' param is required", name)
		}
		value = def
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(domain.ErrConfig, "incorrect '%s' param in yaml config (must be a decimal): %q", name, value)
	}

	return d, nil
}

func intParam(name, value string, def int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(domain.ErrConfig, "incorrect '%s' param in yaml config (must be an integer): %q", name, value)
	}

	return n, nil
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}

	return value
}

func intOrDefault(value, def int) int {
	if value <= 0 {
		return def
	}

	return value
}

func durationOrDefault(value, def time.Duration) time.Duration {
	if value <= 0 {
		return def
	}

	return value
}
