package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kunalshah/dalal_straddler/internal/broker"
	"github.com/kunalshah/dalal_straddler/internal/config"
	"github.com/kunalshah/dalal_straddler/internal/models"
	"github.com/kunalshah/dalal_straddler/internal/storage"
	"github.com/kunalshah/dalal_straddler/internal/strategy"
	"github.com/kunalshah/dalal_straddler/internal/util"
)

// TradingCycle runs one gate-to-persist pass of the straddle lifecycle.
// Cycles are serialized by the caller; at most one runs at a time.
type TradingCycle struct {
	cfg        *config.Config
	broker     broker.Broker
	storage    storage.Interface
	strategy   *strategy.StraddleStrategy
	reconciler *Reconciler
	closer     *Closer
	logger     *log.Logger
	loc        *time.Location
	now        func() time.Time
}

// NewTradingCycle wires a cycle from its collaborators.
func NewTradingCycle(cfg *config.Config, b broker.Broker, store storage.Interface, strat *strategy.StraddleStrategy, reconciler *Reconciler, closer *Closer, logger *log.Logger) *TradingCycle {
	return &TradingCycle{
		cfg:        cfg,
		broker:     b,
		storage:    store,
		strategy:   strat,
		reconciler: reconciler,
		closer:     closer,
		logger:     logger,
		loc:        cfg.Location(),
		now:        time.Now,
	}
}

// Run executes one trading cycle: gate, reconcile, open or rebalance, MTM
// append, persist, and on expiry day past square-off, the closing sequence.
// A closed gate returns (0, false, nil); any error aborts the cycle with
// the ledger retaining its last persisted state.
func (tc *TradingCycle) Run(ctx context.Context) (float64, bool, error) {
	now := tc.now().In(tc.loc)
	ledger := tc.storage.Ledger()

	if !tc.isTradeAllowed(ctx, ledger, now) {
		return 0, false, nil
	}

	tc.logger.Println("Starting trading cycle...")
	expiry := util.FormatExpiry(util.MonthlyExpiry(now))

	positions, err := tc.openPositions(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("fetching positions: %w", err)
	}
	tc.reconciler.Reconcile(ledger, positions)
	tc.reconciler.EvaluateStopLoss(ctx, ledger, positions)

	if !ledger.IsTradeExecuted {
		atm, err := tc.strategy.CurrentATMStrike(ctx)
		if err != nil {
			return 0, false, err
		}
		tc.logger.Printf("No trade yet today, selling straddle at %d", atm)
		if err := tc.strategy.OpenStraddle(ctx, ledger, atm, expiry); err != nil {
			return 0, false, err
		}
	} else {
		atm, err := tc.strategy.CurrentATMStrike(ctx)
		if err != nil {
			return 0, false, err
		}
		if err := tc.strategy.Rebalance(ctx, ledger, atm, expiry); err != nil {
			return 0, false, err
		}
	}

	// Fresh snapshot so newly opened legs carry broker fills into the
	// ledger and the MTM sample.
	positions, err = tc.openPositions(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("refreshing positions: %w", err)
	}
	tc.reconciler.Reconcile(ledger, positions)

	mtm := strategy.TrackMTM(ledger, positions, expiry, now)
	tc.logger.Printf("MTM: %.2f", mtm)

	if err := tc.storage.Save(); err != nil {
		return 0, false, fmt.Errorf("persisting ledger: %w", err)
	}

	if util.IsMonthlyExpiryToday(now) && tc.cfg.IsPastSquareOff(now) {
		tc.logger.Println("Monthly expiry past square-off, closing all legs")
		closeErr := tc.closer.CloseUntilDone(ctx, ledger, expiry, now.Add(tc.cfg.GetCloseDeadline()))
		if err := tc.storage.Save(); err != nil {
			return mtm, true, fmt.Errorf("persisting ledger after close: %w", err)
		}
		if closeErr != nil {
			return mtm, true, closeErr
		}
	}

	tc.logger.Println("Trading cycle complete")
	return mtm, true, nil
}

// isTradeAllowed is the composite gate: market open, past the entry time,
// day not squared off, and a working broker session. A session failure is
// logged and folded into gate-closed, never propagated.
func (tc *TradingCycle) isTradeAllowed(ctx context.Context, ledger *models.Ledger, now time.Time) bool {
	if !tc.cfg.IsWithinTradingHours(now) {
		tc.logger.Printf("Outside trading hours (%s - %s), skipping cycle",
			tc.cfg.Schedule.EntryTime, tc.cfg.Schedule.MarketCloseTime)
		return false
	}
	if ledger.IsTradeClosed {
		tc.logger.Println("Day already squared off, skipping cycle")
		return false
	}
	if _, err := tc.broker.GenerateSession(ctx); err != nil {
		tc.logger.Printf("Session establishment failed, skipping cycle: %v", err)
		return false
	}
	return true
}

func (tc *TradingCycle) openPositions(ctx context.Context) ([]broker.Position, error) {
	positions, err := tc.broker.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	return broker.FilterOpen(positions), nil
}
