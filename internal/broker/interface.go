// Package broker provides the brokerage client used to execute options
// trades. It includes the SmartAPI HTTP client implementation and a circuit
// breaker wrapper.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// Broker defines the interface for interacting with the brokerage.
type Broker interface {
	// GenerateSession authenticates and caches a session token for the
	// cycle. It must be called before any other operation.
	GenerateSession(ctx context.Context) (*Session, error)

	// GetPositions returns the broker-reported positions snapshot.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetLTP returns the last traded price for an instrument.
	GetLTP(ctx context.Context, exchange, tradingSymbol, token string) (float64, error)

	// PlaceOrder submits a single order and reports its confirmation
	// status.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// GetMargin returns the account margin snapshot (informational).
	GetMargin(ctx context.Context) (*MarginSnapshot, error)
}

// FilterOpen returns only positions with a non-zero net quantity.
func FilterOpen(positions []Position) []Position {
	open := make([]Position, 0, len(positions))
	for _, p := range positions {
		if p.NetQty != 0 {
			open = append(open, p)
		}
	}
	return open
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible
// defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with
// custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GenerateSession wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GenerateSession(ctx context.Context) (*Session, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Session, error) {
		return b.GenerateSession(ctx)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Position, error) {
		return b.GetPositions(ctx)
	})
}

// GetLTP wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetLTP(ctx context.Context, exchange, tradingSymbol, token string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetLTP(ctx, exchange, tradingSymbol, token)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.PlaceOrder(ctx, req)
	})
}

// GetMargin wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetMargin(ctx context.Context) (*MarginSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*MarginSnapshot, error) {
		return b.GetMargin(ctx)
	})
}

// Ensure wrappers implement Broker at compile time.
var (
	_ Broker = (*CircuitBreakerBroker)(nil)
	_ Broker = (*SmartAPIClient)(nil)
)
