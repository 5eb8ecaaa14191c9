// Command dcaladder runs DCA ladder bots: every bot buys a base order and a
// ladder of safety orders below it, sells the whole position at the take
// profit target and starts the next deal until its deal limit is reached.
//
// Usage:
//
//	dcaladder --config config.yaml
//	dcaladder --setup                 (interactive wizard)
//	dcaladder --preview               (print ladders, no trading)
//	dcaladder --history               (print closed deals)
//	dcaladder --stop-bot <id>         (no successor after the current deal)
//
// Exchange secrets are read from the environment or a .env file:
//
//	BINANCE_API_KEY, BINANCE_API_SECRET
//	BYBIT_API_KEY, BYBIT_API_SECRET
//	HYPERLIQUID_PRIVATE_KEY, HYPERLIQUID_BASE_URL
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/dcaladder/config"
	"github.com/vadiminshakov/dcaladder/internal"
	"github.com/vadiminshakov/dcaladder/internal/clients"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/events"
	"github.com/vadiminshakov/dcaladder/internal/logger"
	"github.com/vadiminshakov/dcaladder/internal/report"
	"github.com/vadiminshakov/dcaladder/internal/services/strategy/dca"
	"github.com/vadiminshakov/dcaladder/internal/setup"
	"github.com/vadiminshakov/dcaladder/internal/storage/bots"
	"github.com/vadiminshakov/dcaladder/internal/storage/dealevents"
	"github.com/vadiminshakov/dcaladder/internal/storage/deals"
	"github.com/vadiminshakov/dcaladder/internal/web"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		path, err := setup.RunTUI(flags.ConfigPath)
		if err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = path
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := logger.New(logger.Config(cfg.Log))
	if err != nil {
		log.Fatal(err)
	}
	defer l.Sync()

	if err := run(l, cfg, flags); err != nil {
		l.Fatal("dcaladder stopped", zap.Error(err))
	}
}

func run(l *zap.Logger, cfg config.Config, flags config.Flags) error {
	dealStore, err := deals.NewStore(filepath.Join(cfg.DataDir, "deals"), deals.WithLogger(l))
	if err != nil {
		return err
	}
	botStore, err := bots.NewStore(filepath.Join(cfg.DataDir, "bots"))
	if err != nil {
		return err
	}

	if flags.StopBot != "" {
		if err := botStore.SetActive(flags.StopBot, false); err != nil {
			return err
		}
		fmt.Printf("bot %s stopped, its running deal finishes without a successor\n", flags.StopBot)
		return nil
	}

	if flags.History {
		closed, err := dealStore.FindAll(deals.Filter{Status: domain.DealStatusClosed})
		if err != nil {
			return err
		}
		fmt.Println(report.History(domain.Summarize(closed)))
		return nil
	}

	journal, err := dealevents.NewWALStore(filepath.Join(cfg.DataDir, "events"))
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			l.Error("failed to close deal event journal", zap.Error(err))
		}
	}()

	exchanges := internal.NewExchangeProvider(
		l,
		clients.CredentialsFromEnv(),
		filepath.Join(cfg.DataDir, "sandbox"),
		cfg.Engine.CallTimeout,
		cfg.HyperliquidRules,
	)
	progress := events.NewProgressBroadcaster(64)

	supervisor := internal.NewSupervisor(l, dealStore, botStore, exchanges,
		internal.SupervisorConfig{
			Follower: dca.Config{
				EntryPollInterval:    cfg.Engine.EntryPollInterval,
				PollInterval:         cfg.Engine.PollInterval,
				RetryInterval:        cfg.Engine.RetryInterval,
				MaxExecutionFailures: cfg.Engine.MaxExecutionFailures,
				OrderLookupGrace:     cfg.Engine.OrderLookupGrace,
			},
			ResumeStagger:    cfg.Engine.ResumeStagger,
			StaleAfter:       cfg.Engine.StaleAfter,
			WatchdogInterval: cfg.Engine.WatchdogInterval,
		},
		internal.WithJournal(journal),
		internal.WithProgressObserver(progress),
		internal.WithReportWriter(os.Stdout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.Preview {
		for _, bot := range cfg.Bots {
			if _, err := supervisor.Preview(ctx, botSpec(bot)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := supervisor.Resume(ctx); err != nil {
		return err
	}

	for _, bot := range cfg.Bots {
		deal, err := supervisor.Start(ctx, botSpec(bot))
		if errors.Is(err, domain.ErrDealLimitReached) {
			l.Info("bot finished all its deals", zap.String("bot", bot.Name), zap.Error(err))
			continue
		}
		if err != nil {
			// one misconfigured bot does not stop the others
			l.Error("failed to start bot", zap.String("bot", bot.Name), zap.Error(err))
			continue
		}
		l.Info("bot running", zap.String("bot", bot.Name), zap.String("deal", deal.ID))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		supervisor.Watch(gctx)
		return nil
	})
	if !cfg.Web.Disabled {
		srv := web.NewServer(l, cfg.Web.Addr, dealStore, botStore, progress, journal)
		g.Go(func() error {
			if domains := cfg.Web.Domains(); len(domains) > 0 {
				return srv.StartWithAutoTLS(gctx, domains, cfg.Web.CacheDir)
			}
			return srv.Start(gctx)
		})
	}

	err = g.Wait()
	stop()
	supervisor.Wait()

	return err
}

func botSpec(bot config.BotConfig) internal.BotSpec {
	return internal.BotSpec{
		ID:      bot.ID,
		Name:    bot.Name,
		Config:  bot.Deal,
		DealMax: bot.DealMax,
	}
}
