package strategy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunalshah/dalal_straddler/internal/broker"
	"github.com/kunalshah/dalal_straddler/internal/instruments"
	"github.com/kunalshah/dalal_straddler/internal/models"
	"github.com/kunalshah/dalal_straddler/internal/retry"
)

const testExpiry = "24SEP2026"

type fakeResolver struct {
	optionErr error
}

func (f *fakeResolver) ResolveOption(_ context.Context, underlying string, strike int, optionType models.OptionType, expiry string) (*instruments.Resolved, error) {
	if f.optionErr != nil {
		return nil, f.optionErr
	}
	return &instruments.Resolved{
		Token:         fmt.Sprintf("%d-%s", strike, optionType),
		TradingSymbol: fmt.Sprintf("%s%s%d%s", underlying, expiry, strike, optionType),
		LotSize:       15,
	}, nil
}

func newTestStrategy(mock *broker.MockBroker) *StraddleStrategy {
	logger := log.New(os.Stderr, "[TEST] ", log.LstdFlags)
	rc := retry.NewClient(mock, logger, retry.Config{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Timeout:        time.Second,
	})
	return NewStraddleStrategy(mock, rc, &fakeResolver{}, logger, Params{
		Underlying:       "BANKNIFTY",
		Exchange:         broker.ExchangeNFO,
		SpotExchange:     "NSE",
		SpotSymbol:       "BANKNIFTY",
		SpotToken:        "99926009",
		ProductType:      broker.ProductTypeCarryForward,
		Lots:             1,
		StrikeStep:       100,
		StrikeDifference: 100,
	})
}

func TestOpenStraddleAppendsBothLegs(t *testing.T) {
	mock := broker.NewMockBroker()
	s := newTestStrategy(mock)
	ledger := models.NewLedger("2026-09-01")

	err := s.OpenStraddle(context.Background(), ledger, 45000, testExpiry)
	require.NoError(t, err)

	require.Len(t, ledger.TradeDetails, 2)
	assert.Equal(t, models.OptionTypeCE, ledger.TradeDetails[0].OptionType)
	assert.Equal(t, models.OptionTypePE, ledger.TradeDetails[1].OptionType)
	for _, leg := range ledger.TradeDetails {
		assert.Equal(t, 45000, leg.Strike)
		assert.Equal(t, -15, leg.NetQty)
		assert.False(t, leg.Closed)
	}
	assert.True(t, ledger.IsTradeExecuted)
	assert.False(t, ledger.IsTradeClosed)
	assert.Len(t, mock.PlacedOrders, 2)
	assert.Equal(t, broker.TransactionSell, mock.PlacedOrders[0].TransactionType)
}

func TestOpenStraddleCompensatesFailedPE(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.PlaceOrderFn = func(req broker.OrderRequest) (*broker.OrderResponse, error) {
		if strings.HasSuffix(req.TradingSymbol, "PE") {
			return nil, errors.New("order rejected: insufficient margin")
		}
		return &broker.OrderResponse{Status: true, OrderID: "ok"}, nil
	}
	s := newTestStrategy(mock)
	ledger := models.NewLedger("2026-09-01")

	err := s.OpenStraddle(context.Background(), ledger, 45000, testExpiry)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartialStraddle)

	// CE sell, rejected PE sell, compensating CE buy.
	require.Len(t, mock.PlacedOrders, 3)
	last := mock.PlacedOrders[len(mock.PlacedOrders)-1]
	assert.Equal(t, broker.TransactionBuy, last.TransactionType)
	assert.True(t, strings.HasSuffix(last.TradingSymbol, "CE"))

	// Ledger untouched.
	assert.Empty(t, ledger.TradeDetails)
	assert.False(t, ledger.IsTradeExecuted)
}

func TestOpenStraddlePartialWhenCompensationFails(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.PlaceOrderFn = func(req broker.OrderRequest) (*broker.OrderResponse, error) {
		if req.TransactionType == broker.TransactionBuy || strings.HasSuffix(req.TradingSymbol, "PE") {
			return nil, errors.New("order rejected")
		}
		return &broker.OrderResponse{Status: true}, nil
	}
	s := newTestStrategy(mock)
	ledger := models.NewLedger("2026-09-01")

	err := s.OpenStraddle(context.Background(), ledger, 45000, testExpiry)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialStraddle)
	assert.Empty(t, ledger.TradeDetails)
}

func TestOpenStraddleResolveFailureIsDataIntegrity(t *testing.T) {
	mock := broker.NewMockBroker()
	s := newTestStrategy(mock)
	s.resolver = &fakeResolver{optionErr: instruments.ErrInstrumentNotFound}
	ledger := models.NewLedger("2026-09-01")

	err := s.OpenStraddle(context.Background(), ledger, 45000, testExpiry)
	var die *DataIntegrityError
	require.ErrorAs(t, err, &die)
	assert.Empty(t, mock.PlacedOrders, "no order may be placed past an integrity failure")
}

func TestRebalanceBelowThresholdDoesNothing(t *testing.T) {
	mock := broker.NewMockBroker()
	s := newTestStrategy(mock)
	ledger := models.NewLedger("2026-09-01")
	// Only a CE is open, so a large enough move would trigger a PE order.
	ledger.AppendLeg(models.TradeLeg{Token: "a", OptionType: models.OptionTypeCE, Strike: 45000, Expiry: testExpiry, NetQty: -15})

	require.NoError(t, s.Rebalance(context.Background(), ledger, 45050, testExpiry))
	assert.Empty(t, mock.PlacedOrders)
	assert.Len(t, ledger.TradeDetails, 1)
}

func TestRebalanceOpensMissingPE(t *testing.T) {
	mock := broker.NewMockBroker()
	s := newTestStrategy(mock)
	ledger := models.NewLedger("2026-09-01")
	// Only a CE survived the day so far; the PE side is absent.
	ledger.AppendLeg(models.TradeLeg{Token: "a", OptionType: models.OptionTypeCE, Strike: 45000, Expiry: testExpiry, NetQty: -15})

	require.NoError(t, s.Rebalance(context.Background(), ledger, 45200, testExpiry))

	require.Len(t, mock.PlacedOrders, 1)
	assert.True(t, strings.HasSuffix(mock.PlacedOrders[0].TradingSymbol, "PE"))
	require.Len(t, ledger.TradeDetails, 2)
	added := ledger.TradeDetails[1]
	assert.Equal(t, models.OptionTypePE, added.OptionType)
	assert.Equal(t, 45200, added.Strike)
}

func TestRebalanceReopensStraddleAfterBothStoppedOut(t *testing.T) {
	mock := broker.NewMockBroker()
	s := newTestStrategy(mock)
	ledger := models.NewLedger("2026-09-01")
	ledger.AppendLeg(models.TradeLeg{Token: "a", OptionType: models.OptionTypeCE, Strike: 45000, Expiry: testExpiry, NetQty: -15, Closed: true})
	ledger.AppendLeg(models.TradeLeg{Token: "b", OptionType: models.OptionTypePE, Strike: 45000, Expiry: testExpiry, NetQty: -15, Closed: true})

	require.NoError(t, s.Rebalance(context.Background(), ledger, 45300, testExpiry))
	assert.Len(t, mock.PlacedOrders, 2)
	assert.Len(t, ledger.TradeDetails, 4)
	ce, pe := ledger.LegsAtStrike(45300)
	assert.True(t, ce)
	assert.True(t, pe)
}

func TestRebalanceBothSidesOpenDoesNothing(t *testing.T) {
	mock := broker.NewMockBroker()
	s := newTestStrategy(mock)
	ledger := models.NewLedger("2026-09-01")
	ledger.AppendLeg(models.TradeLeg{Token: "a", OptionType: models.OptionTypeCE, Strike: 45000, Expiry: testExpiry, NetQty: -15})
	ledger.AppendLeg(models.TradeLeg{Token: "b", OptionType: models.OptionTypePE, Strike: 45000, Expiry: testExpiry, NetQty: -15})

	require.NoError(t, s.Rebalance(context.Background(), ledger, 45200, testExpiry))
	assert.Empty(t, mock.PlacedOrders)
}

func TestRebalanceSkipsAlreadyTradedStrike(t *testing.T) {
	mock := broker.NewMockBroker()
	s := newTestStrategy(mock)
	ledger := models.NewLedger("2026-09-01")
	ledger.AppendLeg(models.TradeLeg{Token: "a", OptionType: models.OptionTypeCE, Strike: 45000, Expiry: testExpiry, NetQty: -15})
	// The ATM strike already carries a leg from earlier in the day.
	ledger.AppendLeg(models.TradeLeg{Token: "c", OptionType: models.OptionTypePE, Strike: 45200, Expiry: testExpiry, NetQty: -15, Closed: true})

	require.NoError(t, s.Rebalance(context.Background(), ledger, 45200, testExpiry))
	assert.Empty(t, mock.PlacedOrders)
	assert.Len(t, ledger.TradeDetails, 2)
}

func TestRebalanceEmptyLedgerDoesNothing(t *testing.T) {
	mock := broker.NewMockBroker()
	s := newTestStrategy(mock)
	ledger := models.NewLedger("2026-09-01")

	require.NoError(t, s.Rebalance(context.Background(), ledger, 45000, testExpiry))
	assert.Empty(t, mock.PlacedOrders)
}

func TestCurrentATMStrikeUsesIndexSpot(t *testing.T) {
	mock := broker.NewMockBroker()
	// The price is keyed by the configured index token; a strategy asking
	// for any other instrument would get a missing-LTP error.
	mock.LTPs["99926009"] = 44962.35
	s := newTestStrategy(mock)

	atm, err := s.CurrentATMStrike(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45000, atm)
}

func TestCurrentATMStrikeNonFiniteSpot(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.LTPs["99926009"] = math.NaN()
	s := newTestStrategy(mock)

	_, err := s.CurrentATMStrike(context.Background())
	var die *DataIntegrityError
	require.ErrorAs(t, err, &die)
}

func TestTrackMTMAppendsOnePointPerCall(t *testing.T) {
	ledger := models.NewLedger("2026-09-01")
	ledger.AppendLeg(models.TradeLeg{Token: "48756", OptionType: models.OptionTypeCE, Strike: 45000, Expiry: testExpiry, NetQty: -15})
	ledger.AppendLeg(models.TradeLeg{Token: "48757", OptionType: models.OptionTypePE, Strike: 45000, Expiry: testExpiry, NetQty: -15})

	positions := []broker.Position{
		{Token: "48756", Expiry: testExpiry, Unrealised: 1250.50},
		{Token: "48757", Expiry: testExpiry, Unrealised: -430.25},
		{Token: "99999", Expiry: testExpiry, Unrealised: 9999}, // untracked token
		{Token: "48756", Expiry: "29OCT2026", Unrealised: 500}, // expiry mismatch
	}

	now := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	total := TrackMTM(ledger, positions, testExpiry, now)
	assert.InDelta(t, 820.25, total, 1e-9)
	require.Len(t, ledger.MTM, 1)
	assert.Equal(t, now, ledger.MTM[0].Time)

	TrackMTM(ledger, positions, testExpiry, now.Add(5*time.Minute))
	assert.Len(t, ledger.MTM, 2, "each call appends a point")
}
