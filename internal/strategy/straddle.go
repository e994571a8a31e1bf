// Package strategy implements the short-straddle decision logic: opening
// the two-leg pair, rebalancing toward the current ATM strike, and the
// running MTM series.
package strategy

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/kunalshah/dalal_straddler/internal/broker"
	"github.com/kunalshah/dalal_straddler/internal/instruments"
	"github.com/kunalshah/dalal_straddler/internal/models"
	"github.com/kunalshah/dalal_straddler/internal/retry"
	"github.com/kunalshah/dalal_straddler/internal/util"
)

// InstrumentResolver resolves contract identity for an order. Satisfied by
// instruments.Store.
type InstrumentResolver interface {
	ResolveOption(ctx context.Context, underlying string, strike int, optionType models.OptionType, expiry string) (*instruments.Resolved, error)
}

// Params holds the straddle parameters fixed for a deployment. The Spot
// triple identifies the underlying index itself, whose LTP anchors the
// ATM strike.
type Params struct {
	Underlying       string
	Exchange         string
	SpotExchange     string
	SpotSymbol       string
	SpotToken        string
	ProductType      string
	Lots             int
	StrikeStep       int
	StrikeDifference int // rebalance threshold in points
}

// StraddleStrategy opens and rebalances the day's short straddle.
type StraddleStrategy struct {
	broker      broker.Broker
	retryClient *retry.Client
	resolver    InstrumentResolver
	logger      *log.Logger
	params      Params
}

func NewStraddleStrategy(b broker.Broker, rc *retry.Client, resolver InstrumentResolver, logger *log.Logger, params Params) *StraddleStrategy {
	return &StraddleStrategy{
		broker:      b,
		retryClient: rc,
		resolver:    resolver,
		logger:      logger,
		params:      params,
	}
}

// CurrentATMStrike derives the ATM strike from the underlying index's
// last traded price rounded to the strike step. A non-finite or
// non-positive spot is a data-integrity failure, never silently skipped.
func (s *StraddleStrategy) CurrentATMStrike(ctx context.Context) (int, error) {
	spot, err := s.broker.GetLTP(ctx, s.params.SpotExchange, s.params.SpotSymbol, s.params.SpotToken)
	if err != nil {
		return 0, fmt.Errorf("fetching spot for %s: %w", s.params.SpotSymbol, err)
	}
	atm, err := util.ATMStrike(spot, s.params.StrikeStep)
	if err != nil {
		return 0, &DataIntegrityError{Op: "atm strike", Err: err}
	}
	return atm, nil
}

// OpenStraddle sells a CE and a PE at the given strike as a saga: the CE
// goes first, the PE gets the bounded retry budget, and a PE failure is
// compensated by buying the CE back. Both legs are appended to the ledger
// only when both confirmations are truthy.
func (s *StraddleStrategy) OpenStraddle(ctx context.Context, ledger *models.Ledger, strike int, expiry string) error {
	ce, err := s.resolver.ResolveOption(ctx, s.params.Underlying, strike, models.OptionTypeCE, expiry)
	if err != nil {
		return &DataIntegrityError{Op: "resolve CE", Err: err}
	}
	pe, err := s.resolver.ResolveOption(ctx, s.params.Underlying, strike, models.OptionTypePE, expiry)
	if err != nil {
		return &DataIntegrityError{Op: "resolve PE", Err: err}
	}

	qty := ce.LotSize * s.params.Lots
	s.logger.Printf("Opening straddle at %d x%d (%s / %s)", strike, qty, ce.TradingSymbol, pe.TradingSymbol)

	ceResp, err := s.broker.PlaceOrder(ctx, s.sellOrder(ce, qty))
	if err != nil || !ceResp.Status {
		return fmt.Errorf("placing CE leg at %d: %w", strike, orderErr(ceResp, err))
	}

	peResp, err := s.retryClient.PlaceOrderWithRetry(ctx, s.sellOrder(pe, qty))
	if err != nil || !peResp.Status {
		s.logger.Printf("PE leg failed at %d, buying CE back: %v", strike, orderErr(peResp, err))
		compResp, compErr := s.retryClient.PlaceOrderWithRetry(ctx, s.buyOrder(ce, qty))
		if compErr != nil || !compResp.Status {
			s.logger.Printf("CE compensation failed: %v", orderErr(compResp, compErr))
			return fmt.Errorf("PE leg at %d: %v: %w", strike, orderErr(peResp, err), ErrPartialStraddle)
		}
		return fmt.Errorf("straddle at %d aborted, CE compensated: %w", strike, orderErr(peResp, err))
	}

	s.appendLeg(ledger, ce, models.OptionTypeCE, strike, expiry, qty)
	s.appendLeg(ledger, pe, models.OptionTypePE, strike, expiry, qty)
	ledger.IsTradeExecuted = true
	ledger.IsTradeClosed = false
	return nil
}

// OpenLeg sells a single missing leg at the strike and records it on
// success. Used by the rebalance path when only one side is absent.
func (s *StraddleStrategy) OpenLeg(ctx context.Context, ledger *models.Ledger, strike int, optionType models.OptionType, expiry string) error {
	inst, err := s.resolver.ResolveOption(ctx, s.params.Underlying, strike, optionType, expiry)
	if err != nil {
		return &DataIntegrityError{Op: "resolve " + string(optionType), Err: err}
	}

	qty := inst.LotSize * s.params.Lots
	s.logger.Printf("Opening %s leg at %d x%d (%s)", optionType, strike, qty, inst.TradingSymbol)

	resp, err := s.retryClient.PlaceOrderWithRetry(ctx, s.sellOrder(inst, qty))
	if err != nil || !resp.Status {
		return fmt.Errorf("placing %s leg at %d: %w", optionType, strike, orderErr(resp, err))
	}

	s.appendLeg(ledger, inst, optionType, strike, expiry, qty)
	ledger.IsTradeExecuted = true
	ledger.IsTradeClosed = false
	return nil
}

// Rebalance compares the ATM strike against the nearest traded strike and,
// once the move clears the threshold, re-opens whichever side the ledger no
// longer holds open at the new ATM strike. A strike that already carries a
// leg is never traded again.
func (s *StraddleStrategy) Rebalance(ctx context.Context, ledger *models.Ledger, atmStrike int, expiry string) error {
	previous, ok := ledger.NearestStrike(atmStrike)
	if !ok {
		// Nothing traded yet; the cycle opens the initial straddle
		// through OpenStraddle, not here.
		return nil
	}

	difference := util.AbsInt(atmStrike - previous)
	if difference < s.params.StrikeDifference {
		return nil
	}
	if ledger.StrikeTraded(atmStrike) {
		return nil
	}

	ceOpen, peOpen := ledger.OpenOptionTypes()
	switch {
	case !ceOpen && !peOpen:
		s.logger.Printf("ATM moved %d -> %d (diff %d), opening straddle", previous, atmStrike, difference)
		return s.OpenStraddle(ctx, ledger, atmStrike, expiry)
	case ceOpen && !peOpen:
		s.logger.Printf("ATM moved %d -> %d, opening missing PE", previous, atmStrike)
		return s.OpenLeg(ctx, ledger, atmStrike, models.OptionTypePE, expiry)
	case !ceOpen && peOpen:
		s.logger.Printf("ATM moved %d -> %d, opening missing CE", previous, atmStrike)
		return s.OpenLeg(ctx, ledger, atmStrike, models.OptionTypeCE, expiry)
	default:
		// Both sides still open; the straddle stands where it was sold.
		return nil
	}
}

func (s *StraddleStrategy) sellOrder(inst *instruments.Resolved, qty int) broker.OrderRequest {
	return s.order(inst, qty, broker.TransactionSell)
}

func (s *StraddleStrategy) buyOrder(inst *instruments.Resolved, qty int) broker.OrderRequest {
	return s.order(inst, qty, broker.TransactionBuy)
}

func (s *StraddleStrategy) order(inst *instruments.Resolved, qty int, side broker.TransactionType) broker.OrderRequest {
	return broker.OrderRequest{
		Exchange:        s.params.Exchange,
		TradingSymbol:   inst.TradingSymbol,
		Token:           inst.Token,
		Quantity:        qty,
		TransactionType: side,
		ProductType:     s.params.ProductType,
		OrderType:       broker.OrderTypeMarket,
		Variety:         broker.VarietyNormal,
		Duration:        broker.DurationDay,
		Tag:             "straddle-" + uuid.NewString(),
	}
}

func (s *StraddleStrategy) appendLeg(ledger *models.Ledger, inst *instruments.Resolved, optionType models.OptionType, strike int, expiry string, qty int) {
	ledger.AppendLeg(models.TradeLeg{
		Token:         inst.Token,
		Symbol:        s.params.Underlying,
		TradingSymbol: inst.TradingSymbol,
		OptionType:    optionType,
		Strike:        strike,
		Expiry:        expiry,
		NetQty:        -qty,
		Exchange:      s.params.Exchange,
	})
}

// orderErr folds a rejected-but-errorless confirmation into an error.
func orderErr(resp *broker.OrderResponse, err error) error {
	if err != nil {
		return err
	}
	if resp != nil && !resp.Status {
		return fmt.Errorf("order rejected: %s", resp.Message)
	}
	return err
}
