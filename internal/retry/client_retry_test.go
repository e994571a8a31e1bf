package retry

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunalshah/dalal_straddler/internal/broker"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[TEST] ", log.LstdFlags)
}

func fastConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func sellOrder() broker.OrderRequest {
	return broker.OrderRequest{
		Exchange:        broker.ExchangeNFO,
		TradingSymbol:   "BANKNIFTY24SEP2645000CE",
		Token:           "48756",
		Quantity:        15,
		TransactionType: broker.TransactionSell,
	}
}

func TestPlaceOrderSucceedsFirstTry(t *testing.T) {
	mock := broker.NewMockBroker()
	client := NewClient(mock, testLogger(), fastConfig())

	resp, err := client.PlaceOrderWithRetry(context.Background(), sellOrder())
	require.NoError(t, err)
	assert.True(t, resp.Status)
	assert.Len(t, mock.PlacedOrders, 1)
}

func TestPlaceOrderRetriesTransientFailure(t *testing.T) {
	mock := broker.NewMockBroker()
	attempts := 0
	mock.PlaceOrderFn = func(broker.OrderRequest) (*broker.OrderResponse, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return &broker.OrderResponse{Status: true, OrderID: "ok"}, nil
	}
	client := NewClient(mock, testLogger(), fastConfig())

	resp, err := client.PlaceOrderWithRetry(context.Background(), sellOrder())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.OrderID)
	assert.Equal(t, 3, attempts)
}

func TestPlaceOrderDoesNotRetryRejection(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.PlaceOrderFn = func(broker.OrderRequest) (*broker.OrderResponse, error) {
		return nil, errors.New("insufficient funds")
	}
	client := NewClient(mock, testLogger(), fastConfig())

	_, err := client.PlaceOrderWithRetry(context.Background(), sellOrder())
	require.Error(t, err)
	assert.Len(t, mock.PlacedOrders, 1, "broker rejection must not be retried")
}

func TestPlaceOrderExhaustsBudget(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.PlaceOrderFn = func(broker.OrderRequest) (*broker.OrderResponse, error) {
		return nil, errors.New("gateway timeout 504")
	}
	client := NewClient(mock, testLogger(), fastConfig())

	_, err := client.PlaceOrderWithRetry(context.Background(), sellOrder())
	require.Error(t, err)
	assert.Len(t, mock.PlacedOrders, 3, "initial attempt plus two retries")
}

func TestPlaceOrderHonorsCancellation(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.PlaceOrderFn = func(broker.OrderRequest) (*broker.OrderResponse, error) {
		return nil, errors.New("network unreachable")
	}
	client := NewClient(mock, testLogger(), Config{
		MaxRetries:     10,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Timeout:        time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.PlaceOrderWithRetry(ctx, sellOrder())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
