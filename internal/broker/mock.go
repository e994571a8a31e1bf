package broker

import (
	"context"
	"fmt"
	"sync"
)

// MockBroker implements Broker for testing. All fields are safe to set
// before use; PlacedOrders records every submission in order.
type MockBroker struct {
	mu sync.Mutex

	SessionErr   error
	Positions    []Position
	PositionsErr error
	LTPs         map[string]float64 // keyed by token
	LTPErr       error
	Margin       *MarginSnapshot
	MarginErr    error

	// PlaceOrderFn overrides order handling when set.
	PlaceOrderFn func(req OrderRequest) (*OrderResponse, error)
	PlacedOrders []OrderRequest
}

// NewMockBroker returns a mock with every call succeeding by default.
func NewMockBroker() *MockBroker {
	return &MockBroker{LTPs: make(map[string]float64)}
}

// GenerateSession returns a canned session or the configured error.
func (m *MockBroker) GenerateSession(_ context.Context) (*Session, error) {
	if m.SessionErr != nil {
		return nil, m.SessionErr
	}
	return &Session{JWTToken: "test-jwt"}, nil
}

// GetPositions returns the configured snapshot.
func (m *MockBroker) GetPositions(_ context.Context) ([]Position, error) {
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	out := make([]Position, len(m.Positions))
	copy(out, m.Positions)
	return out, nil
}

// GetLTP returns the configured price for a token.
func (m *MockBroker) GetLTP(_ context.Context, _, _, token string) (float64, error) {
	if m.LTPErr != nil {
		return 0, m.LTPErr
	}
	ltp, ok := m.LTPs[token]
	if !ok {
		return 0, fmt.Errorf("mock: no ltp for token %s", token)
	}
	return ltp, nil
}

// PlaceOrder records the request and succeeds unless PlaceOrderFn says
// otherwise.
func (m *MockBroker) PlaceOrder(_ context.Context, req OrderRequest) (*OrderResponse, error) {
	m.mu.Lock()
	m.PlacedOrders = append(m.PlacedOrders, req)
	n := len(m.PlacedOrders)
	m.mu.Unlock()

	if m.PlaceOrderFn != nil {
		return m.PlaceOrderFn(req)
	}
	return &OrderResponse{Status: true, OrderID: fmt.Sprintf("order-%d", n)}, nil
}

// GetMargin returns the configured snapshot.
func (m *MockBroker) GetMargin(_ context.Context) (*MarginSnapshot, error) {
	if m.MarginErr != nil {
		return nil, m.MarginErr
	}
	if m.Margin != nil {
		return m.Margin, nil
	}
	return &MarginSnapshot{Net: 1_000_000, AvailableCash: 1_000_000}, nil
}

var _ Broker = (*MockBroker)(nil)
