package models

import (
	"errors"
	"fmt"
	"time"
)

// CloseState represents the state of the end-of-day closing sequence.
type CloseState string

const (
	// ClosePending means no close attempt has started yet.
	ClosePending CloseState = "pending"
	// CloseRunning means close attempts are in flight.
	CloseRunning CloseState = "running"
	// CloseDone means every expiring leg confirmed closed.
	CloseDone CloseState = "done"
	// CloseFailed is terminal: retry budget or deadline exhausted,
	// manual intervention required.
	CloseFailed CloseState = "failed"
)

// ErrCloseExhausted is returned when the closing sequence runs out of
// attempts or time before all legs confirm closed.
var ErrCloseExhausted = errors.New("close sequence exhausted, needs manual intervention")

// CloseTracker bounds the until-all-closed loop with a maximum attempt
// count and a deadline. A naive close loop could spin forever on a leg
// that never fills; exceeding either bound transitions to the terminal
// CloseFailed state instead.
type CloseTracker struct {
	state       CloseState
	deadline    time.Time
	attempts    int
	maxAttempts int
}

// NewCloseTracker creates a tracker allowing maxAttempts passes before the
// given deadline.
func NewCloseTracker(maxAttempts int, deadline time.Time) *CloseTracker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &CloseTracker{
		state:       ClosePending,
		deadline:    deadline,
		maxAttempts: maxAttempts,
	}
}

// State returns the current close state.
func (c *CloseTracker) State() CloseState {
	return c.state
}

// Attempts returns how many passes have started.
func (c *CloseTracker) Attempts() int {
	return c.attempts
}

// Begin starts the next closing pass. It fails with ErrCloseExhausted once
// the attempt budget or deadline is spent, moving to CloseFailed.
func (c *CloseTracker) Begin(now time.Time) error {
	switch c.state {
	case CloseDone:
		return fmt.Errorf("close sequence already complete")
	case CloseFailed:
		return ErrCloseExhausted
	}
	if c.attempts >= c.maxAttempts || !now.Before(c.deadline) {
		c.state = CloseFailed
		return ErrCloseExhausted
	}
	c.attempts++
	c.state = CloseRunning
	return nil
}

// Complete marks the sequence done. Valid only while running.
func (c *CloseTracker) Complete() error {
	if c.state != CloseRunning {
		return fmt.Errorf("cannot complete close sequence from state %s", c.state)
	}
	c.state = CloseDone
	return nil
}
