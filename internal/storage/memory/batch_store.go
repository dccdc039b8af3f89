package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/store"
)

// BatchStore provides an in-memory store.BatchStore for development/testing.
// A single mutex makes every method one atomic unit.
type BatchStore struct {
	mu        sync.RWMutex
	batches   map[string]crawler.BatchJob
	items     map[string][]crawler.BatchItem // batch id -> items in position order
	itemIndex map[string]string              // item id -> batch id
	results   map[string]crawler.CrawlResult
}

var _ store.BatchStore = (*BatchStore)(nil)

// NewBatchStore constructs a BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		batches:   make(map[string]crawler.BatchJob),
		items:     make(map[string][]crawler.BatchItem),
		itemIndex: make(map[string]string),
		results:   make(map[string]crawler.CrawlResult),
	}
}

// CreateBatch stores a batch with its items.
func (s *BatchStore) CreateBatch(_ context.Context, batch crawler.BatchJob, items []crawler.BatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return errors.New("batch already exists")
	}
	batch.URLs = slices.Clone(batch.URLs)
	s.batches[batch.ID] = batch
	stored := slices.Clone(items)
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Position < stored[j].Position })
	s.items[batch.ID] = stored
	for _, item := range stored {
		s.itemIndex[item.ID] = batch.ID
	}
	return nil
}

// GetBatch fetches a batch by ID.
func (s *BatchStore) GetBatch(_ context.Context, id string) (crawler.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	if !ok {
		return crawler.BatchJob{}, fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	return copyBatch(batch), nil
}

// ListBatches returns batches newest first.
func (s *BatchStore) ListBatches(_ context.Context, filter store.BatchFilter) ([]crawler.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.BatchJob, 0, len(s.batches))
	for _, batch := range s.batches {
		if filter.Status != "" && batch.Status != filter.Status {
			continue
		}
		out = append(out, copyBatch(batch))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateBatch applies a status change.
func (s *BatchStore) UpdateBatch(_ context.Context, id string, update store.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	if len(update.From) > 0 && !slices.Contains(update.From, batch.Status) {
		return fmt.Errorf("batch %s is %s: %w", id, batch.Status, crawler.ErrInvalidTransition)
	}
	if update.Status != "" {
		batch.Status = update.Status
	}
	if update.StartedAt != nil && batch.StartedAt == nil {
		batch.StartedAt = pointerTime(*update.StartedAt)
	}
	if update.ClearCompletedAt {
		batch.CompletedAt = nil
	}
	if update.CompletedAt != nil {
		batch.CompletedAt = pointerTime(*update.CompletedAt)
	}
	if update.ErrorMessage != nil {
		batch.ErrorMessage = *update.ErrorMessage
	}
	s.batches[id] = batch
	return nil
}

// DeleteBatch removes a batch, its items and results.
func (s *BatchStore) DeleteBatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[id]; !ok {
		return fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	for _, item := range s.items[id] {
		delete(s.itemIndex, item.ID)
	}
	for rid, result := range s.results {
		if result.BatchID == id {
			delete(s.results, rid)
		}
	}
	delete(s.items, id)
	delete(s.batches, id)
	return nil
}

// GetItem fetches an item by ID.
func (s *BatchStore) GetItem(_ context.Context, id string) (crawler.BatchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, batchID, ok := s.locate(id)
	if !ok {
		return crawler.BatchItem{}, fmt.Errorf("item %s: %w", id, store.ErrNotFound)
	}
	return copyItem(s.items[batchID][idx]), nil
}

// ListItems returns a batch's items in position order.
func (s *BatchStore) ListItems(_ context.Context, batchID string, status crawler.ItemStatus) ([]crawler.BatchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.batches[batchID]; !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	out := make([]crawler.BatchItem, 0, len(s.items[batchID]))
	for _, item := range s.items[batchID] {
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, copyItem(item))
	}
	return out, nil
}

// ClaimNextItem moves the first pending item to processing.
func (s *BatchStore) ClaimNextItem(_ context.Context, batchID string, at time.Time) (crawler.BatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[batchID]
	for i := range items {
		if items[i].Status != crawler.ItemStatusPending {
			continue
		}
		items[i].Status = crawler.ItemStatusProcessing
		items[i].StartedAt = pointerTime(at)
		items[i].CompletedAt = nil
		return copyItem(items[i]), nil
	}
	return crawler.BatchItem{}, fmt.Errorf("pending item for batch %s: %w", batchID, store.ErrNotFound)
}

// CompleteItem records an item's outcome and bumps the batch counters.
func (s *BatchStore) CompleteItem(
	_ context.Context,
	batchID string,
	completion store.ItemCompletion,
) (crawler.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return crawler.Counters{}, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	idx, owner, ok := s.locate(completion.ItemID)
	if !ok || owner != batchID {
		return crawler.Counters{}, fmt.Errorf("item %s: %w", completion.ItemID, store.ErrNotFound)
	}
	item := &s.items[batchID][idx]
	if item.Status != crawler.ItemStatusProcessing {
		return crawler.Counters{}, fmt.Errorf("item %s is %s, not processing", item.ID, item.Status)
	}

	item.Status = completion.Status
	item.CompletedAt = pointerTime(completion.CompletedAt)
	batch.Processed++
	switch completion.Status {
	case crawler.ItemStatusCompleted:
		if completion.Result != nil {
			s.results[completion.Result.ID] = *completion.Result
			item.ResultID = completion.Result.ID
		}
		item.ErrorMessage, item.ErrorType = "", ""
		batch.Successful++
	default:
		item.ErrorMessage = completion.ErrorMessage
		item.ErrorType = completion.ErrorType
		item.ResultID = ""
		batch.Failed++
	}
	s.batches[batchID] = batch
	return batch.Counters, nil
}

// ResetFailedItems moves failed items back to pending.
func (s *BatchStore) ResetFailedItems(_ context.Context, batchID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return 0, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	items := s.items[batchID]
	n := 0
	for i := range items {
		if items[i].Status != crawler.ItemStatusFailed {
			continue
		}
		resetItem(&items[i])
		n++
	}
	batch.Failed -= n
	batch.Processed -= n
	s.batches[batchID] = batch
	return n, nil
}

// ResetItem moves one failed item back to pending.
func (s *BatchStore) ResetItem(_ context.Context, itemID string) (crawler.BatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, batchID, ok := s.locate(itemID)
	if !ok {
		return crawler.BatchItem{}, fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
	}
	item := &s.items[batchID][idx]
	if item.Status != crawler.ItemStatusFailed {
		return crawler.BatchItem{}, fmt.Errorf("item %s is %s: %w", itemID, item.Status, crawler.ErrItemNotRetryable)
	}
	resetItem(item)
	batch := s.batches[batchID]
	batch.Failed--
	batch.Processed--
	s.batches[batchID] = batch
	return copyItem(*item), nil
}

// RequeueProcessing moves items left in processing back to pending.
func (s *BatchStore) RequeueProcessing(_ context.Context, batchID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[batchID]
	n := 0
	for i := range items {
		if items[i].Status == crawler.ItemStatusProcessing {
			items[i].Status = crawler.ItemStatusPending
			items[i].StartedAt = nil
			n++
		}
	}
	return n, nil
}

// GetResult fetches a result by ID.
func (s *BatchStore) GetResult(_ context.Context, id string) (crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	if !ok {
		return crawler.CrawlResult{}, fmt.Errorf("result %s: %w", id, store.ErrNotFound)
	}
	return result, nil
}

// ListResults returns a batch's results in item order.
func (s *BatchStore) ListResults(_ context.Context, batchID string) ([]crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.CrawlResult
	for _, item := range s.items[batchID] {
		if item.ResultID == "" {
			continue
		}
		if result, ok := s.results[item.ResultID]; ok {
			out = append(out, result)
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *BatchStore) Close() error {
	return nil
}

func (s *BatchStore) locate(itemID string) (int, string, bool) {
	batchID, ok := s.itemIndex[itemID]
	if !ok {
		return 0, "", false
	}
	for i, item := range s.items[batchID] {
		if item.ID == itemID {
			return i, batchID, true
		}
	}
	return 0, "", false
}

func resetItem(item *crawler.BatchItem) {
	item.Status = crawler.ItemStatusPending
	item.StartedAt = nil
	item.CompletedAt = nil
	item.ErrorMessage = ""
	item.ErrorType = ""
	item.ResultID = ""
}

func copyBatch(b crawler.BatchJob) crawler.BatchJob {
	b.URLs = slices.Clone(b.URLs)
	if b.StartedAt != nil {
		b.StartedAt = pointerTime(*b.StartedAt)
	}
	if b.CompletedAt != nil {
		b.CompletedAt = pointerTime(*b.CompletedAt)
	}
	return b
}

func copyItem(item crawler.BatchItem) crawler.BatchItem {
	if item.StartedAt != nil {
		item.StartedAt = pointerTime(*item.StartedAt)
	}
	if item.CompletedAt != nil {
		item.CompletedAt = pointerTime(*item.CompletedAt)
	}
	return item
}

func pointerTime(t time.Time) *time.Time {
	return &t
}
