package storage

import (
	"github.com/kunalshah/dalal_straddler/internal/models"
)

// Interface defines the contract for per-day ledger persistence.
//
// The trading cycle is serialized externally: at most one cycle mutates the
// ledger at a time, so Ledger hands out the live document without locking.
// Snapshot, Save and Load are goroutine-safe and serve concurrent readers
// such as the dashboard.
type Interface interface {
	// Ledger returns the live day ledger, created fresh if none was
	// persisted for the day. Mutate only from the trading cycle.
	Ledger() *models.Ledger

	// Snapshot returns a deep copy safe for concurrent readers.
	Snapshot() models.Ledger

	// Save persists the full ledger document (wholesale overwrite).
	Save() error
	// Load re-reads the persisted document, replacing in-memory state.
	Load() error

	// Path reports the backing file location.
	Path() string
}

// NewStorage creates the ledger store for the given day (currently
// JSON-file-based).
func NewStorage(dir, date string) (Interface, error) {
	return NewJSONStorage(dir, date)
}

// Ensure JSONStorage implements Interface.
var _ Interface = (*JSONStorage)(nil)
