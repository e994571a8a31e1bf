package strategy

import (
	"errors"
	"fmt"
)

// ErrPartialStraddle reports a straddle open that left one leg at the
// broker without a ledger record. The reconciler picks the stray leg up
// on the next cycle.
var ErrPartialStraddle = errors.New("straddle partially placed, compensation failed")

// DataIntegrityError marks a cycle-fatal input failure such as an
// unresolvable instrument or a non-finite spot price. No mutation is
// attempted past the failure point.
type DataIntegrityError struct {
	Op  string
	Err error
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity failure in %s: %v", e.Op, e.Err)
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }
