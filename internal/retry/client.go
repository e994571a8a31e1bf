// Package retry wraps order placement with a bounded backoff budget. It is
// used only where the lifecycle design calls for bounded retries: the
// second straddle leg and close orders.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/kunalshah/dalal_straddler/internal/broker"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

type Client struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

func NewClient(broker broker.Broker, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		broker: broker,
		logger: logger,
		config: cfg,
	}
}

// PlaceOrderWithRetry submits an order, retrying transient failures with
// backoff until the attempt budget or timeout is spent. Broker rejections
// (non-transient) fail immediately.
func (c *Client) PlaceOrderWithRetry(ctx context.Context, req broker.OrderRequest) (*broker.OrderResponse, error) {
	orderCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-orderCtx.Done():
			return nil, fmt.Errorf("order placement timed out after %v: %w", c.config.Timeout, orderCtx.Err())
		default:
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		c.logger.Printf("Order attempt %d/%d for %s %s",
			attempt+1, c.config.MaxRetries+1, req.TransactionType, req.TradingSymbol)

		resp, err := c.broker.PlaceOrder(orderCtx, req)
		if err == nil {
			c.logger.Printf("Order placed on attempt %d: %s", attempt+1, resp.OrderID)
			return resp, nil
		}

		lastErr = err
		c.logger.Printf("Order attempt %d failed: %v", attempt+1, err)

		if c.isTransientError(err) && attempt < c.config.MaxRetries {
			c.logger.Printf("Transient error detected, retrying in %v", backoff)
			select {
			case <-time.After(backoff):
				backoff = c.calculateNextBackoff(backoff)
			case <-orderCtx.Done():
				return nil, fmt.Errorf("order placement timed out during backoff: %w", orderCtx.Err())
			case <-ctx.Done():
				return nil, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
			}
		} else {
			break
		}
	}

	return nil, fmt.Errorf("failed to place order after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
