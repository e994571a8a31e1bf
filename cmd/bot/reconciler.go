package main

import (
	"context"
	"log"

	"github.com/kunalshah/dalal_straddler/internal/broker"
	"github.com/kunalshah/dalal_straddler/internal/models"
)

// Reconciler merges broker-reported open positions into the day ledger and
// evaluates the per-leg stop-loss trigger.
type Reconciler struct {
	closer           *Closer
	logger           *log.Logger
	stopLossMultiple float64
}

// NewReconciler creates a position reconciler.
func NewReconciler(closer *Closer, logger *log.Logger, stopLossMultiple float64) *Reconciler {
	return &Reconciler{
		closer:           closer,
		logger:           logger,
		stopLossMultiple: stopLossMultiple,
	}
}

// Reconcile refreshes ledger legs from the broker snapshot and appends any
// position the ledger does not yet track. Idempotent: reconciling the same
// snapshot twice yields identical ledger state.
//
// Matching is by token for refresh; the append dedup key is
// (strike, optionType), which intentionally ignores expiry.
func (r *Reconciler) Reconcile(ledger *models.Ledger, positions []broker.Position) {
	if len(positions) > 0 {
		ledger.IsTradeExecuted = true
	}
	for _, pos := range positions {
		if leg := ledger.LegByToken(pos.Token); leg != nil {
			leg.TradedPrice = pos.NetPrice
			leg.Exchange = pos.Exchange
			leg.TradingSymbol = pos.TradingSymbol
			continue
		}
		if ledger.HasLeg(pos.Strike, pos.OptionType) {
			// A stray broker position at a tracked (strike, type) pair,
			// likely the surviving leg of a partial straddle. Left alone.
			r.logger.Printf("Position %s matches tracked key (%d, %s), not re-appending",
				pos.TradingSymbol, pos.Strike, pos.OptionType)
			continue
		}
		r.logger.Printf("Tracking new position %s (strike %d %s, qty %d)",
			pos.TradingSymbol, pos.Strike, pos.OptionType, pos.NetQty)
		ledger.AppendLeg(models.TradeLeg{
			Token:         pos.Token,
			Symbol:        pos.SymbolName,
			TradingSymbol: pos.TradingSymbol,
			OptionType:    pos.OptionType,
			Strike:        pos.Strike,
			Expiry:        pos.Expiry,
			NetQty:        pos.NetQty,
			TradedPrice:   pos.NetPrice,
			Exchange:      pos.Exchange,
		})
	}
}

// EvaluateStopLoss closes any short leg whose current price has reached the
// stop multiple of its traded price. Only legs with Exchange and
// TradedPrice populated are considered.
func (r *Reconciler) EvaluateStopLoss(ctx context.Context, ledger *models.Ledger, positions []broker.Position) {
	for i := range ledger.TradeDetails {
		leg := &ledger.TradeDetails[i]
		if leg.Closed || !leg.IsShort() || leg.Exchange == "" || leg.TradedPrice <= 0 {
			continue
		}
		pos := positionByToken(positions, leg.Token)
		if pos == nil {
			continue
		}
		trigger := r.stopLossMultiple * leg.TradedPrice
		if pos.LTP < trigger {
			continue
		}
		r.logger.Printf("Stop loss on %s: ltp %.2f >= %.2f, closing",
			leg.TradingSymbol, pos.LTP, trigger)
		if err := r.closer.CloseLeg(ctx, leg); err != nil {
			r.logger.Printf("Stop-loss close failed: %v", err)
		}
	}
}

func positionByToken(positions []broker.Position, token string) *broker.Position {
	for i := range positions {
		if positions[i].Token == token {
			return &positions[i]
		}
	}
	return nil
}
