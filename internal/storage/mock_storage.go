package storage

import (
	"github.com/kunalshah/dalal_straddler/internal/models"
)

// MockStorage implements Interface for testing.
type MockStorage struct {
	ledger        *models.Ledger
	saveError     error
	loadError     error
	SaveCallCount int
	LoadCallCount int
}

// NewMockStorage creates an in-memory store seeded with a fresh ledger.
func NewMockStorage(date string) *MockStorage {
	return &MockStorage{ledger: models.NewLedger(date)}
}

// SetLedger replaces the in-memory ledger.
func (m *MockStorage) SetLedger(l *models.Ledger) {
	m.ledger = l
}

// FailSaves makes subsequent Save calls return err.
func (m *MockStorage) FailSaves(err error) {
	m.saveError = err
}

// FailLoads makes subsequent Load calls return err.
func (m *MockStorage) FailLoads(err error) {
	m.loadError = err
}

// Ledger returns the live ledger.
func (m *MockStorage) Ledger() *models.Ledger {
	return m.ledger
}

// Snapshot returns a deep copy of the ledger.
func (m *MockStorage) Snapshot() models.Ledger {
	cp := *m.ledger
	cp.TradeDetails = append([]models.TradeLeg(nil), m.ledger.TradeDetails...)
	cp.MTM = append([]models.MTMPoint(nil), m.ledger.MTM...)
	return cp
}

// Save counts the call and returns the configured error.
func (m *MockStorage) Save() error {
	m.SaveCallCount++
	return m.saveError
}

// Load counts the call and returns the configured error.
func (m *MockStorage) Load() error {
	m.LoadCallCount++
	return m.loadError
}

// Path reports a placeholder location.
func (m *MockStorage) Path() string {
	return "mock://" + m.ledger.Date
}

var _ Interface = (*MockStorage)(nil)
