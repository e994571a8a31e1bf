package storage

import "errors"

// ErrCorruptLedger is returned when the persisted ledger document cannot be
// decoded.
var ErrCorruptLedger = errors.New("corrupt ledger document")
