// Package storage persists the per-day trade ledger as a JSON document.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kunalshah/dalal_straddler/internal/models"
)

// JSONStorage stores one ledger document per trading day in a JSON file.
// Writes are wholesale overwrites via a temp file and atomic rename.
type JSONStorage struct {
	mu   sync.RWMutex
	path string
	data *models.Ledger
}

// NewJSONStorage opens the ledger file for the given date under dir,
// loading it if present and creating a fresh zero-value ledger otherwise.
func NewJSONStorage(dir, date string) (*JSONStorage, error) {
	if date == "" {
		return nil, fmt.Errorf("storage: date is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}

	s := &JSONStorage{
		path: filepath.Join(dir, date+".json"),
		data: models.NewLedger(date),
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading ledger: %w", err)
		}
	}

	return s, nil
}

// Ledger returns the live day ledger. Only the trading cycle mutates it;
// cycle serialization is the caller's obligation.
func (s *JSONStorage) Ledger() *models.Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Snapshot returns a deep copy for concurrent readers.
func (s *JSONStorage) Snapshot() models.Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.data
	cp.TradeDetails = append([]models.TradeLeg(nil), s.data.TradeDetails...)
	cp.MTM = append([]models.MTMPoint(nil), s.data.MTM...)
	return cp
}

// Load replaces in-memory state from disk.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	ledger := &models.Ledger{}
	if err := json.Unmarshal(raw, ledger); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptLedger, s.path, err)
	}
	if ledger.TradeDetails == nil {
		ledger.TradeDetails = make([]models.TradeLeg, 0)
	}
	if ledger.MTM == nil {
		ledger.MTM = make([]models.MTMPoint, 0)
	}

	s.data = ledger
	return nil
}

// Save writes the full document. Not retried internally; a failed save is
// fatal to the cycle and the file retains the last successful state.
func (s *JSONStorage) Save() error {
	s.mu.RLock()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing ledger file: %w", err)
	}
	return nil
}

// Path reports the backing file location.
func (s *JSONStorage) Path() string {
	return s.path
}
