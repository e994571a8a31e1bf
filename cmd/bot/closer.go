package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kunalshah/dalal_straddler/internal/broker"
	"github.com/kunalshah/dalal_straddler/internal/models"
	"github.com/kunalshah/dalal_straddler/internal/retry"
	"github.com/kunalshah/dalal_straddler/internal/util"
)

// Closer drives closure of open legs via opposite-direction orders.
type Closer struct {
	orders      *retry.Client
	logger      *log.Logger
	productType string
	maxAttempts int
}

// NewCloser creates a closer; maxAttempts bounds the end-of-day loop.
func NewCloser(orders *retry.Client, logger *log.Logger, productType string, maxAttempts int) *Closer {
	return &Closer{
		orders:      orders,
		logger:      logger,
		productType: productType,
		maxAttempts: maxAttempts,
	}
}

// CloseLeg submits an order opposite to the leg's NetQty sign, sized
// |NetQty|, and marks the leg closed only on a truthy confirmation.
func (c *Closer) CloseLeg(ctx context.Context, leg *models.TradeLeg) error {
	if leg.Closed {
		return nil
	}
	qty := util.AbsInt(leg.NetQty)
	if qty == 0 {
		return fmt.Errorf("leg %s has zero quantity, nothing to close", leg.TradingSymbol)
	}
	side := broker.TransactionSell
	if leg.IsShort() {
		side = broker.TransactionBuy
	}

	c.logger.Printf("Closing leg %s (%s x%d)", leg.TradingSymbol, side, qty)
	resp, err := c.orders.PlaceOrderWithRetry(ctx, broker.OrderRequest{
		Exchange:        leg.Exchange,
		TradingSymbol:   leg.TradingSymbol,
		Token:           leg.Token,
		Quantity:        qty,
		TransactionType: side,
		ProductType:     c.productType,
		OrderType:       broker.OrderTypeMarket,
		Variety:         broker.VarietyNormal,
		Duration:        broker.DurationDay,
		Tag:             "close-" + uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("closing %s: %w", leg.TradingSymbol, err)
	}
	if !resp.Status {
		return fmt.Errorf("closing %s: order rejected: %s", leg.TradingSymbol, resp.Message)
	}
	leg.MarkClosed()
	return nil
}

// CloseAllForExpiry closes every open leg with the given expiry. A failed
// leg is logged and left open for the next pass.
func (c *Closer) CloseAllForExpiry(ctx context.Context, ledger *models.Ledger, expiry string) {
	for _, leg := range ledger.OpenLegs(expiry) {
		if err := c.CloseLeg(ctx, leg); err != nil {
			c.logger.Printf("Close pass: %v", err)
		}
	}
}

// CloseUntilDone runs closing passes until no leg with the expiry remains
// open, then sets IsTradeClosed. The loop is bounded by the attempt budget
// and deadline; exhaustion returns models.ErrCloseExhausted and leaves the
// remaining legs for manual intervention.
func (c *Closer) CloseUntilDone(ctx context.Context, ledger *models.Ledger, expiry string, deadline time.Time) error {
	tracker := models.NewCloseTracker(c.maxAttempts, deadline)
	for !ledger.AllClosed(expiry) {
		if err := tracker.Begin(time.Now()); err != nil {
			c.logger.Printf("Close sequence halted after %d attempt(s): %v", tracker.Attempts(), err)
			return err
		}
		c.logger.Printf("Close pass %d/%d", tracker.Attempts(), c.maxAttempts)
		c.CloseAllForExpiry(ctx, ledger, expiry)
	}
	if tracker.State() == models.CloseRunning {
		if err := tracker.Complete(); err != nil {
			return err
		}
	}
	ledger.IsTradeClosed = true
	c.logger.Printf("All legs for expiry %s closed", expiry)
	return nil
}
