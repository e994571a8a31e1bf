package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kunalshah/dalal_straddler/internal/broker"
	"github.com/kunalshah/dalal_straddler/internal/config"
	"github.com/kunalshah/dalal_straddler/internal/dashboard"
	"github.com/kunalshah/dalal_straddler/internal/instruments"
	"github.com/kunalshah/dalal_straddler/internal/retry"
	"github.com/kunalshah/dalal_straddler/internal/storage"
	"github.com/kunalshah/dalal_straddler/internal/strategy"
)

// Bot owns the long-lived collaborators and the scheduling loop.
type Bot struct {
	config  *config.Config
	storage storage.Interface
	cycle   *TradingCycle
	logger  *log.Logger
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)
	logger.Printf("Starting %s straddle bot in %s mode", cfg.Strategy.Underlying, cfg.Environment.Mode)
	if !cfg.IsPaperTrading() {
		logger.Println("LIVE TRADING MODE - real money at risk, waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	bot, err := newBot(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize bot: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(ctx)
	})

	if cfg.Dashboard.Enabled {
		server := dashboard.NewServer(cfg.Dashboard.ListenAddr, bot.storage,
			log.New(os.Stdout, "[DASH] ", log.LstdFlags))
		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Bot error: %v", err)
	}
	logger.Println("Bot stopped successfully")
}

func newBot(cfg *config.Config, logger *log.Logger) (*Bot, error) {
	client := broker.NewSmartAPIClient(broker.Credentials{
		APIKey:     cfg.Broker.APIKey,
		ClientCode: cfg.Broker.ClientCode,
		PIN:        cfg.Broker.PIN,
		TOTPSecret: cfg.Broker.TOTPSecret,
	}, log.New(os.Stdout, "[SMARTAPI] ", log.LstdFlags), broker.WithBaseURL(cfg.Broker.APIEndpoint))
	b := broker.NewCircuitBreakerBroker(client)

	today := time.Now().In(cfg.Location()).Format("2006-01-02")
	store, err := storage.NewStorage(cfg.Storage.Dir, today)
	if err != nil {
		return nil, err
	}

	orders := retry.NewClient(b, log.New(os.Stdout, "[ORDERS] ", log.LstdFlags))
	resolver := instruments.NewStore(log.New(os.Stdout, "[SCRIPS] ", log.LstdFlags))

	strat := strategy.NewStraddleStrategy(b, orders, resolver,
		log.New(os.Stdout, "[STRATEGY] ", log.LstdFlags), strategy.Params{
			Underlying:       cfg.Strategy.Underlying,
			Exchange:         cfg.Strategy.Exchange,
			SpotExchange:     cfg.Strategy.SpotExchange,
			SpotSymbol:       cfg.Strategy.SpotSymbol,
			SpotToken:        cfg.Strategy.SpotToken,
			ProductType:      cfg.Strategy.ProductType,
			Lots:             cfg.Strategy.Lots,
			StrikeStep:       cfg.Strategy.StrikeStep,
			StrikeDifference: cfg.Strategy.StrikeDifference,
		})

	closer := NewCloser(orders, logger, cfg.Strategy.ProductType, cfg.Risk.MaxCloseAttempts)
	reconciler := NewReconciler(closer, logger, cfg.Risk.StopLossMultiple)
	cycle := NewTradingCycle(cfg, b, store, strat, reconciler, closer, logger)

	return &Bot{
		config:  cfg,
		storage: store,
		cycle:   cycle,
		logger:  logger,
	}, nil
}

// Run drives the cycle on the configured interval until the context ends.
// Cycle errors are logged, not fatal: the next tick gets a fresh chance.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Printf("Ledger file: %s", b.storage.Path())

	ticker := time.NewTicker(b.config.GetCheckInterval())
	defer ticker.Stop()

	b.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.runOnce(ctx)
		}
	}
}

func (b *Bot) runOnce(ctx context.Context) {
	mtm, executed, err := b.cycle.Run(ctx)
	switch {
	case err != nil:
		b.logger.Printf("Cycle failed: %v", err)
	case executed:
		b.logger.Printf("Cycle complete, mtm %.2f", mtm)
	}
}
