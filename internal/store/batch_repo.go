package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// BatchFilter narrows ListBatches. Zero values match everything.
type BatchFilter struct {
	Status crawler.BatchStatus
	Limit  int
}

// StatusUpdate describes a batch status change.
type StatusUpdate struct {
	// Status is the new batch status.
	Status crawler.BatchStatus
	// StartedAt is recorded only if the batch has no start time yet.
	StartedAt *time.Time
	// CompletedAt overwrites the completion time when set.
	CompletedAt *time.Time
	// ClearCompletedAt resets the completion time (retries).
	ClearCompletedAt bool
	// ErrorMessage overwrites the batch-level error when set; an empty string clears it.
	ErrorMessage *string
	// From, when set, applies the update only while the batch is in one of these
	// statuses. A batch in any other status yields crawler.ErrInvalidTransition.
	From []crawler.BatchStatus
}

// ItemCompletion is the terminal outcome of one dispatched item.
type ItemCompletion struct {
	ItemID       string
	Status       crawler.ItemStatus
	CompletedAt  time.Time
	ErrorMessage string
	ErrorType    string
	// Result is persisted alongside a completed item.
	Result *crawler.CrawlResult
}

// BatchStore persists batches, their items and results. Counter updates happen
// only inside CompleteItem, ResetFailedItems and ResetItem, each one atomic unit.
type BatchStore interface {
	// CreateBatch stores the batch and all of its items together.
	CreateBatch(ctx context.Context, batch crawler.BatchJob, items []crawler.BatchItem) error
	GetBatch(ctx context.Context, id string) (crawler.BatchJob, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]crawler.BatchJob, error)
	// UpdateBatch applies update in one statement, conditional on StatusUpdate.From.
	UpdateBatch(ctx context.Context, id string, update StatusUpdate) error
	// DeleteBatch removes the batch, its items and results.
	DeleteBatch(ctx context.Context, id string) error

	GetItem(ctx context.Context, id string) (crawler.BatchItem, error)
	// ListItems returns items in Position order; an empty status matches all.
	ListItems(ctx context.Context, batchID string, status crawler.ItemStatus) ([]crawler.BatchItem, error)
	// ClaimNextItem moves the lowest-Position pending item to processing.
	// It returns ErrNotFound when nothing is pending.
	ClaimNextItem(ctx context.Context, batchID string, at time.Time) (crawler.BatchItem, error)
	// CompleteItem records the terminal state of a processing item and bumps the
	// batch counters, returning them after the update.
	CompleteItem(ctx context.Context, batchID string, completion ItemCompletion) (crawler.Counters, error)
	// ResetFailedItems moves every failed item back to pending and returns how many moved.
	ResetFailedItems(ctx context.Context, batchID string) (int, error)
	// ResetItem moves one failed item back to pending. It returns
	// crawler.ErrItemNotRetryable when the item is not failed.
	ResetItem(ctx context.Context, itemID string) (crawler.BatchItem, error)
	// RequeueProcessing moves items stuck in processing back to pending.
	RequeueProcessing(ctx context.Context, batchID string) (int, error)

	GetResult(ctx context.Context, id string) (crawler.CrawlResult, error)
	ListResults(ctx context.Context, batchID string) ([]crawler.CrawlResult, error)

	Close() error
}
