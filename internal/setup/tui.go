// Package setup is the interactive wizard that writes a bot configuration.
package setup

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/dcaladder/config"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

// DefaultOutput file the wizard writes when no path is given.
const DefaultOutput = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers collected by the wizard, all as typed.
type answers struct {
	name                 string
	exchange             string
	pair                 string
	sandbox              bool
	sandboxWallet        string
	firstOrderAmount     string
	firstOrderType       string
	firstOrderLimitPrice string
	safetyOrders         string
	safetyOrderAmount    string
	startDistancePercent string
	stepPercent          string
	stepMultiplier       string
	sizeMultiplier       string
	takeProfitPercent    string
	dealMax              string
}

func defaultAnswers() answers {
	return answers{
		exchange:             "binance",
		pair:                 "BTC_USDT",
		sandbox:              true,
		sandboxWallet:        "1000",
		firstOrderAmount:     "20",
		firstOrderType:       string(domain.OrderKindMarket),
		safetyOrders:         "5",
		safetyOrderAmount:    "40",
		startDistancePercent: "2",
		stepPercent:          "1.5",
		stepMultiplier:       "1",
		sizeMultiplier:       "1",
		takeProfitPercent:    "1",
		dealMax:              "0",
	}
}

// bot converts the answers into a YAML bot entry, rejecting anything the
// config loader would reject.
func (a answers) bot() (config.BotTmp, error) {
	b := config.BotTmp{
		Name:                 a.name,
		Pair:                 a.pair,
		Exchange:             a.exchange,
		FirstOrderAmount:     a.firstOrderAmount,
		FirstOrderType:       a.firstOrderType,
		SafetyOrders:         a.safetyOrders,
		SafetyOrderAmount:    a.safetyOrderAmount,
		StartDistancePercent: a.startDistancePercent,
		StepPercent:          a.stepPercent,
		StepMultiplier:       a.stepMultiplier,
		SizeMultiplier:       a.sizeMultiplier,
		TakeProfitPercent:    a.takeProfitPercent,
		DealMax:              a.dealMax,
		Sandbox:              a.sandbox,
	}
	if a.firstOrderType == string(domain.OrderKindLimit) {
		b.FirstOrderLimitPrice = a.firstOrderLimitPrice
	}
	if a.sandbox {
		b.SandboxWallet = a.sandboxWallet
	}

	if _, err := config.ParseBot(b); err != nil {
		return config.BotTmp{}, err
	}

	return b, nil
}

func screen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DCALADDER BOT WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal wizard and writes the resulting config to
// path. It returns the path written.
func RunTUI(path string) (string, error) {
	if path == "" {
		path = DefaultOutput
	}

	a := defaultAnswers()
	var confirm bool

	screen("STEP 1: EXCHANGE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("A bot runs one deal at a time on one pair.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select exchange").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
					huh.NewOption("Hyperliquid", "hyperliquid"),
				).
				Value(&a.exchange),
			huh.NewConfirm().
				Title("Sandbox mode?").
				Description("Orders are simulated against live prices").
				Value(&a.sandbox),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 2: PAIR")
	fields := []huh.Field{
		huh.NewInput().
			Title("Trading pair").
			Description("BASE_QUOTE (e.g. BTC_USDT)").
			Value(&a.pair).
			Validate(func(s string) error {
				_, err := domain.ParsePair(s)
				return err
			}),
		huh.NewInput().
			Title("Bot name").
			Description("Optional").
			Value(&a.name),
	}
	if a.sandbox {
		fields = append(fields, huh.NewInput().
			Title("Sandbox wallet").
			Description("Quote currency to start with").
			Value(&a.sandboxWallet).
			Validate(positiveDecimal))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return "", err
	}

	screen("STEP 3: BASE ORDER")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Base order amount").
				Description("Quote currency spent on the first order").
				Value(&a.firstOrderAmount).
				Validate(positiveDecimal),
			huh.NewSelect[string]().
				Title("Base order type").
				Options(
					huh.NewOption("Market", string(domain.OrderKindMarket)),
					huh.NewOption("Limit", string(domain.OrderKindLimit)),
				).
				Value(&a.firstOrderType),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if a.firstOrderType == string(domain.OrderKindLimit) {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Limit price").
					Value(&a.firstOrderLimitPrice).
					Validate(positiveDecimal),
			),
		).Run()
		if err != nil {
			return "", err
		}
	}

	screen("STEP 4: SAFETY ORDERS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Safety orders").
				Description("Number of additional buy orders").
				Value(&a.safetyOrders),
			huh.NewInput().
				Title("Safety order amount").
				Description("Quote currency spent on the first safety order").
				Value(&a.safetyOrderAmount),
			huh.NewInput().
				Title("Start distance %").
				Description("Drop below the base order for the first safety order").
				Value(&a.startDistancePercent),
			huh.NewInput().
				Title("Step %").
				Description("Drop between further safety orders").
				Value(&a.stepPercent),
			huh.NewInput().
				Title("Step multiplier").
				Value(&a.stepMultiplier),
			huh.NewInput().
				Title("Size multiplier").
				Value(&a.sizeMultiplier),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 5: EXIT")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Take profit %").
				Description("Rise above the average price that closes the deal").
				Value(&a.takeProfitPercent).
				Validate(positiveDecimal),
			huh.NewInput().
				Title("Deal limit").
				Description("Deals to run in sequence, 0 for unlimited").
				Value(&a.dealMax),
		),
	).Run()
	if err != nil {
		return "", err
	}

	bot, err := a.bot()
	if err != nil {
		return "", err
	}

	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Exchange: %s (sandbox: %t)\nPair: %s\nBase order: %s %s\nSafety orders: %s x %s from -%s%% step %s%%\nTake profit: %s%%\nDeal limit: %s\n",
		a.exchange, a.sandbox, a.pair, a.firstOrderAmount, a.firstOrderType,
		a.safetyOrders, a.safetyOrderAmount, a.startDistancePercent, a.stepPercent,
		a.takeProfitPercent, a.dealMax,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", errors.New("setup cancelled by user")
	}

	if err := write(path, bot); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))

	return path, nil
}

// write appends bot to the config at path, creating the file if needed.
func write(path string, bot config.BotTmp) error {
	var cfg config.ConfigTmp

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return errors.Wrapf(err, "parse existing %s", path)
		}
	case !os.IsNotExist(err):
		return errors.Wrapf(err, "read %s", path)
	}

	cfg.Bots = append(cfg.Bots, bot)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}

	return nil
}

func positiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}
