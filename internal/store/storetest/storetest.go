// Package storetest holds behavioural checks shared by every store.BatchStore implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.BatchStore

// Run exercises the store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("ClaimFIFO", func(t *testing.T) { testClaimFIFO(t, newStore(t)) })
	t.Run("CompleteUpdatesCounters", func(t *testing.T) { testComplete(t, newStore(t)) })
	t.Run("ResetFailed", func(t *testing.T) { testResetFailed(t, newStore(t)) })
	t.Run("ResetItem", func(t *testing.T) { testResetItem(t, newStore(t)) })
	t.Run("RequeueProcessing", func(t *testing.T) { testRequeue(t, newStore(t)) })
	t.Run("UpdateAndList", func(t *testing.T) { testUpdateAndList(t, newStore(t)) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Seed builds a pending batch with one item per URL.
func Seed(id string, urls ...string) (crawler.BatchJob, []crawler.BatchItem) {
	batch := crawler.BatchJob{
		ID:                id,
		Name:              "batch " + id,
		URLs:              urls,
		Status:            crawler.BatchStatusPending,
		CreatedAt:         base,
		OutputDir:         "results",
		Format:            crawler.FormatMarkdown,
		ConcurrentWorkers: 2,
		TimeoutPerURL:     30 * time.Second,
		Content:           crawler.ContentOptions{IncludeLinks: true},
		RateLimit:         crawler.RateLimitConfig{AdaptiveDelayFactor: 2, RequestsBeforeBreak: 50},
		Counters:          crawler.Counters{Total: len(urls)},
	}
	items := make([]crawler.BatchItem, len(urls))
	for i, u := range urls {
		items[i] = crawler.BatchItem{
			ID:       fmt.Sprintf("%s-item-%d", id, i),
			BatchID:  id,
			Position: i,
			URL:      u,
			Status:   crawler.ItemStatusPending,
		}
	}
	return batch, items
}

func create(t *testing.T, s store.BatchStore, id string, urls ...string) crawler.BatchJob {
	t.Helper()
	batch, items := Seed(id, urls...)
	require.NoError(t, s.CreateBatch(context.Background(), batch, items))
	return batch
}

func claim(t *testing.T, s store.BatchStore, batchID string) crawler.BatchItem {
	t.Helper()
	item, err := s.ClaimNextItem(context.Background(), batchID, base.Add(time.Minute))
	require.NoError(t, err)
	return item
}

func fail(t *testing.T, s store.BatchStore, batchID, itemID string) crawler.Counters {
	t.Helper()
	counters, err := s.CompleteItem(context.Background(), batchID, store.ItemCompletion{
		ItemID:       itemID,
		Status:       crawler.ItemStatusFailed,
		CompletedAt:  base.Add(2 * time.Minute),
		ErrorMessage: "connection timed out",
		ErrorType:    "connection_timeout",
	})
	require.NoError(t, err)
	return counters
}

func succeed(t *testing.T, s store.BatchStore, batchID, itemID string) crawler.Counters {
	t.Helper()
	counters, err := s.CompleteItem(context.Background(), batchID, store.ItemCompletion{
		ItemID:      itemID,
		Status:      crawler.ItemStatusCompleted,
		CompletedAt: base.Add(2 * time.Minute),
		Result: &crawler.CrawlResult{
			ID:          "result-" + itemID,
			BatchID:     batchID,
			ItemID:      itemID,
			URL:         "https://example.com",
			Title:       "Example",
			OutputFile:  "results/example.md",
			WordCount:   12,
			LinkCount:   2,
			ContentHash: "abc",
			CreatedAt:   base.Add(2 * time.Minute),
		},
	})
	require.NoError(t, err)
	return counters
}

func testCreateAndGet(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	want := create(t, s, "b1", "https://a.example", "https://a.example", "https://b.example")

	got, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, want.Name, got.Name)
	require.Equal(t, want.URLs, got.URLs)
	require.Equal(t, crawler.BatchStatusPending, got.Status)
	require.Equal(t, 3, got.Total)
	require.Equal(t, want.Format, got.Format)
	require.Equal(t, want.TimeoutPerURL, got.TimeoutPerURL)
	require.Equal(t, want.RateLimit, got.RateLimit)
	require.Equal(t, want.Content, got.Content)
	require.True(t, want.CreatedAt.Equal(got.CreatedAt))
	require.Nil(t, got.StartedAt)

	items, err := s.ListItems(ctx, "b1", "")
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		require.Equal(t, i, item.Position)
	}

	_, err = s.GetBatch(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetItem(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testClaimFIFO(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	create(t, s, "b1", "https://1.example", "https://2.example", "https://3.example")

	for i := range 3 {
		item := claim(t, s, "b1")
		require.Equal(t, i, item.Position)
		require.Equal(t, crawler.ItemStatusProcessing, item.Status)
		require.NotNil(t, item.StartedAt)
	}
	_, err := s.ClaimNextItem(ctx, "b1", base)
	require.ErrorIs(t, err, store.ErrNotFound)

	processing, err := s.ListItems(ctx, "b1", crawler.ItemStatusProcessing)
	require.NoError(t, err)
	require.Len(t, processing, 3)
}

func testComplete(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	create(t, s, "b1", "https://1.example", "https://2.example")

	first := claim(t, s, "b1")
	counters := succeed(t, s, "b1", first.ID)
	require.Equal(t, crawler.Counters{Total: 2, Processed: 1, Successful: 1}, counters)

	second := claim(t, s, "b1")
	counters = fail(t, s, "b1", second.ID)
	require.Equal(t, crawler.Counters{Total: 2, Processed: 2, Successful: 1, Failed: 1}, counters)

	done, err := s.GetItem(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.ItemStatusCompleted, done.Status)
	require.Equal(t, "result-"+first.ID, done.ResultID)
	require.Empty(t, done.ErrorMessage)
	require.NotNil(t, done.CompletedAt)

	failed, err := s.GetItem(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.ItemStatusFailed, failed.Status)
	require.Empty(t, failed.ResultID)
	require.Equal(t, "connection timed out", failed.ErrorMessage)
	require.Equal(t, "connection_timeout", failed.ErrorType)

	result, err := s.GetResult(ctx, done.ResultID)
	require.NoError(t, err)
	require.Equal(t, 12, result.WordCount)
	results, err := s.ListResults(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, results, 1)

	// A second completion of the same item is rejected and leaves counters untouched.
	_, err = s.CompleteItem(ctx, "b1", store.ItemCompletion{ItemID: first.ID, Status: crawler.ItemStatusFailed, CompletedAt: base})
	require.Error(t, err)
	batch, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 2, batch.Processed)
}

func testResetFailed(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	create(t, s, "b1", "https://1.example", "https://2.example", "https://3.example")
	a := claim(t, s, "b1")
	b := claim(t, s, "b1")
	c := claim(t, s, "b1")
	fail(t, s, "b1", a.ID)
	succeed(t, s, "b1", b.ID)
	fail(t, s, "b1", c.ID)

	n, err := s.ResetFailedItems(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	batch, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, crawler.Counters{Total: 3, Processed: 1, Successful: 1}, batch.Counters)

	pending, err := s.ListItems(ctx, "b1", crawler.ItemStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, item := range pending {
		require.Empty(t, item.ErrorMessage)
		require.Empty(t, item.ErrorType)
		require.Nil(t, item.StartedAt)
		require.Nil(t, item.CompletedAt)
	}

	// Nothing failed any more: a second reset is a no-op.
	n, err = s.ResetFailedItems(ctx, "b1")
	require.NoError(t, err)
	require.Zero(t, n)
	again, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, batch.Counters, again.Counters)
}

func testResetItem(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	create(t, s, "b1", "https://1.example", "https://2.example")
	a := claim(t, s, "b1")
	b := claim(t, s, "b1")
	fail(t, s, "b1", a.ID)
	succeed(t, s, "b1", b.ID)

	_, err := s.ResetItem(ctx, b.ID)
	require.ErrorIs(t, err, crawler.ErrItemNotRetryable)

	item, err := s.ResetItem(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.ItemStatusPending, item.Status)

	batch, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, crawler.Counters{Total: 2, Processed: 1, Successful: 1}, batch.Counters)

	_, err = s.ResetItem(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testRequeue(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	create(t, s, "b1", "https://1.example", "https://2.example")
	claim(t, s, "b1")

	n, err := s.RequeueProcessing(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	item := claim(t, s, "b1")
	require.Equal(t, 0, item.Position)
}

func testUpdateAndList(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	create(t, s, "b1", "https://1.example")
	create(t, s, "b2", "https://2.example")

	started := base.Add(time.Hour)
	require.NoError(t, s.UpdateBatch(ctx, "b1", store.StatusUpdate{Status: crawler.BatchStatusRunning, StartedAt: &started}))
	later := started.Add(time.Hour)
	require.NoError(t, s.UpdateBatch(ctx, "b1", store.StatusUpdate{Status: crawler.BatchStatusPaused, StartedAt: &later}))

	batch, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusPaused, batch.Status)
	require.NotNil(t, batch.StartedAt)
	require.True(t, started.Equal(*batch.StartedAt), "started_at is only recorded once")

	msg := "store unavailable"
	done := later.Add(time.Minute)
	require.NoError(t, s.UpdateBatch(ctx, "b1", store.StatusUpdate{
		Status: crawler.BatchStatusFailed, CompletedAt: &done, ErrorMessage: &msg,
	}))
	batch, err = s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, msg, batch.ErrorMessage)
	require.NotNil(t, batch.CompletedAt)

	empty := ""
	require.NoError(t, s.UpdateBatch(ctx, "b1", store.StatusUpdate{
		Status: crawler.BatchStatusPending, ClearCompletedAt: true, ErrorMessage: &empty,
	}))
	batch, err = s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Nil(t, batch.CompletedAt)
	require.Empty(t, batch.ErrorMessage)

	all, err := s.ListBatches(ctx, store.BatchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, s.UpdateBatch(ctx, "b2", store.StatusUpdate{Status: crawler.BatchStatusRunning}))
	running, err := s.ListBatches(ctx, store.BatchFilter{Status: crawler.BatchStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "b2", running[0].ID)

	err = s.UpdateBatch(ctx, "missing", store.StatusUpdate{Status: crawler.BatchStatusRunning})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testConditionalUpdate(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	create(t, s, "b1", "https://1.example")
	startable := []crawler.BatchStatus{crawler.BatchStatusPending, crawler.BatchStatusPaused}

	started := base.Add(time.Hour)
	require.NoError(t, s.UpdateBatch(ctx, "b1", store.StatusUpdate{
		Status: crawler.BatchStatusRunning, StartedAt: &started, From: startable,
	}))

	// A second start loses: the batch is no longer pending or paused.
	err := s.UpdateBatch(ctx, "b1", store.StatusUpdate{Status: crawler.BatchStatusRunning, From: startable})
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)
	require.Contains(t, err.Error(), "running")

	msg := "should not be written"
	err = s.UpdateBatch(ctx, "b1", store.StatusUpdate{
		Status: crawler.BatchStatusPending, ErrorMessage: &msg,
		From: []crawler.BatchStatus{crawler.BatchStatusCompleted, crawler.BatchStatusFailed},
	})
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)
	batch, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusRunning, batch.Status)
	require.Empty(t, batch.ErrorMessage)

	err = s.UpdateBatch(ctx, "missing", store.StatusUpdate{Status: crawler.BatchStatusRunning, From: startable})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testDelete(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	create(t, s, "b1", "https://1.example")
	item := claim(t, s, "b1")
	succeed(t, s, "b1", item.ID)

	require.NoError(t, s.DeleteBatch(ctx, "b1"))
	_, err := s.GetBatch(ctx, "b1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetItem(ctx, item.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetResult(ctx, "result-"+item.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.DeleteBatch(ctx, "b1"), store.ErrNotFound)
}

func testConcurrentClaims(t *testing.T, s store.BatchStore) {
	ctx := context.Background()
	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://%d.example", i)
	}
	create(t, s, "b1", urls...)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := s.ClaimNextItem(ctx, "b1", base)
				if err != nil {
					return
				}
				if _, err := s.CompleteItem(ctx, "b1", store.ItemCompletion{
					ItemID: item.ID, Status: crawler.ItemStatusFailed, CompletedAt: base, ErrorMessage: "boom",
				}); err != nil {
					return
				}
				mu.Lock()
				seen[item.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, len(urls), "every item is claimed exactly once")
	batch, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, len(urls), batch.Processed)
	require.Equal(t, batch.Processed, batch.Successful+batch.Failed)
}
