package crawler

import "errors"

var (
	// ErrInvalidConfig marks a batch definition rejected at creation.
	ErrInvalidConfig = errors.New("invalid batch configuration")
	// ErrInvalidTransition marks an operation not allowed from the batch's current status.
	ErrInvalidTransition = errors.New("invalid batch status transition")
	// ErrBatchRunning is returned for operations that require the batch to be idle.
	ErrBatchRunning = errors.New("batch is running")
	// ErrItemNotRetryable is returned when retrying an item that has not failed.
	ErrItemNotRetryable = errors.New("item is not in failed state")
	// ErrNoItems marks a batch that has nothing to dispatch.
	ErrNoItems = errors.New("batch has no items")
	// ErrNoResults is returned when exporting a batch without completed results.
	ErrNoResults = errors.New("batch has no results")
)
