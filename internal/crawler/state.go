package crawler

import (
	"fmt"
	"slices"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusPending: {
		BatchStatusRunning,
	},
	BatchStatusRunning: {
		BatchStatusPaused,    // dispatch loop drained after a pause request
		BatchStatusCompleted, // nothing pending, nothing in flight
		BatchStatusFailed,    // scheduler-fatal error
	},
	BatchStatusPaused: {
		BatchStatusRunning,
	},
	BatchStatusCompleted: {
		BatchStatusPending, // retry
	},
	BatchStatusFailed: {
		BatchStatusPending, // retry
	},
}

// ValidateTransition checks if a batch status transition is allowed.
func ValidateTransition(from, to BatchStatus) error {
	allowed, ok := batchTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source status %q: %w", from, ErrInvalidTransition)
	}
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("from %s to %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

// CanStart reports whether a batch in status s may be started or resumed.
func CanStart(s BatchStatus) bool {
	return s == BatchStatusPending || s == BatchStatusPaused
}

// CanPause reports whether a batch in status s may be paused.
func CanPause(s BatchStatus) bool {
	return s == BatchStatusRunning
}

// CanRetry reports whether failed items of a batch in status s may be reset.
func CanRetry(s BatchStatus) bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// CanDelete reports whether a batch in status s may be deleted.
func CanDelete(s BatchStatus) bool {
	return s != BatchStatusRunning
}

// IsTerminal reports whether the batch has finished its last run.
func IsTerminal(s BatchStatus) bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}
