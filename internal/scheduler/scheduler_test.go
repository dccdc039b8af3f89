package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/errclass"
	"github.com/JakeFAU/batchcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/batchcrawl/internal/progress"
	"github.com/JakeFAU/batchcrawl/internal/storage/memory"
	"github.com/JakeFAU/batchcrawl/internal/store"
	"github.com/JakeFAU/batchcrawl/internal/worker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%d", s.n.Add(1)), nil
}

type fakeProcessor struct {
	fn func(ctx context.Context, url string, opts worker.Options) worker.Result
}

func (p *fakeProcessor) Process(ctx context.Context, url string, opts worker.Options, _ time.Duration) worker.Result {
	return p.fn(ctx, url, opts)
}

func succeed(_ context.Context, url string, opts worker.Options) worker.Result {
	return worker.Result{
		Success: true,
		Content: &crawler.Page{URL: url, Title: "ok"},
		Metadata: &crawler.CrawlResult{
			ID:      "res-" + opts.ItemID,
			BatchID: opts.BatchID,
			ItemID:  opts.ItemID,
			URL:     url,
			Title:   "ok",
		},
	}
}

func timedOut(string) worker.Result {
	return worker.Result{
		Error:     "crawl timed out after 5s: context deadline exceeded",
		ErrorType: errclass.ConnectionTimeout,
	}
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return nil
}

func (r *sleepRecorder) Slept() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	e.events = append(e.events, evt)
	e.mu.Unlock()
}

func (e *recordingEmitter) Events() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}

func (e *recordingEmitter) Stages() []progress.Stage {
	var out []progress.Stage
	for _, evt := range e.Events() {
		out = append(out, evt.Stage)
	}
	return out
}

type zeroRand struct{}

func (zeroRand) Int64N(int64) int64 { return 0 }

type harness struct {
	sched  *Scheduler
	store  *memory.BatchStore
	clock  *fakeClock
	sleeps *sleepRecorder
	events *recordingEmitter
}

func newHarness(t *testing.T, proc Processor, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:  memory.NewBatchStore(),
		clock:  newFakeClock(),
		sleeps: &sleepRecorder{},
		events: &recordingEmitter{},
	}
	all := append([]Option{
		WithSleep(h.sleeps.Sleep),
		WithEmitter(h.events),
		WithDelays(ratelimit.NewDelays(zeroRand{})),
	}, opts...)
	sched, err := New(h.store, proc, h.clock, &seqIDs{}, all...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Close(ctx)
	})
	h.sched = sched
	return h
}

func spec(workers int, urls ...string) crawler.BatchSpec {
	return crawler.BatchSpec{
		Name:              "test batch",
		URLs:              urls,
		Format:            crawler.FormatMarkdown,
		ConcurrentWorkers: workers,
		TimeoutPerURL:     5 * time.Second,
		RateLimit: crawler.RateLimitConfig{
			AdaptiveDelayFactor: 1,
			RequestsBeforeBreak: 50,
		},
	}
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.com/page/%d", i)
	}
	return out
}

// run creates, starts and waits for a batch.
func (h *harness) run(t *testing.T, s crawler.BatchSpec) crawler.BatchJob {
	t.Helper()
	ctx := context.Background()
	batch, err := h.sched.Create(ctx, s)
	require.NoError(t, err)
	require.NoError(t, h.sched.Start(ctx, batch.ID))
	return h.wait(t, batch.ID)
}

func (h *harness) wait(t *testing.T, id string) crawler.BatchJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx, id))
	batch, err := h.store.GetBatch(context.Background(), id)
	require.NoError(t, err)
	return batch
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{fn: succeed}
	st := memory.NewBatchStore()
	_, err := New(nil, proc, newFakeClock(), &seqIDs{})
	require.Error(t, err)
	_, err = New(st, nil, newFakeClock(), &seqIDs{})
	require.Error(t, err)
	_, err = New(st, proc, nil, &seqIDs{})
	require.Error(t, err)
	_, err = New(st, proc, newFakeClock(), nil)
	require.Error(t, err)
}

func TestCreateStoresPendingBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	ctx := context.Background()

	s := spec(2, " https://a.example ", "https://b.example")
	batch, err := h.sched.Create(ctx, s)
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusPending, batch.Status)
	require.Equal(t, batch.ID, batch.OutputDir)
	require.Equal(t, crawler.Counters{Total: 2}, batch.Counters)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, batch.URLs)

	items, err := h.store.ListItems(ctx, batch.ID, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for i, item := range items {
		require.Equal(t, i, item.Position)
		require.Equal(t, crawler.ItemStatusPending, item.Status)
		require.Equal(t, batch.URLs[i], item.URL)
	}

	s.OutputDir = "/news/"
	named, err := h.sched.Create(ctx, s)
	require.NoError(t, err)
	require.Equal(t, "news", named.OutputDir)
}

func TestCreateRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})

	_, err := h.sched.Create(context.Background(), spec(1))
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)

	bad := spec(0, "https://example.com")
	bad.Name = "  "
	_, err = h.sched.Create(context.Background(), bad)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	require.Contains(t, err.Error(), "name is required")
	require.Contains(t, err.Error(), "concurrent_workers")
}

func TestThreeURLsAllSucceed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	batch := h.run(t, spec(2, urls(3)...))

	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)
	require.Equal(t, crawler.Counters{Total: 3, Processed: 3, Successful: 3}, batch.Counters)
	require.NotNil(t, batch.StartedAt)
	require.NotNil(t, batch.CompletedAt)
	require.Equal(t, 100, batch.ProgressPercentage())

	items, err := h.store.ListItems(context.Background(), batch.ID, crawler.ItemStatusCompleted)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, item := range items {
		require.Equal(t, "res-"+item.ID, item.ResultID)
		require.NotNil(t, item.CompletedAt)
	}
	results, err := h.store.ListResults(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)

	stages := h.events.Stages()
	require.Equal(t, progress.StageBatchStart, stages[0])
	require.Equal(t, progress.StageBatchDone, stages[len(stages)-1])
	done := 0
	for _, evt := range h.events.Events() {
		require.NoError(t, evt.Validate())
		if evt.Stage == progress.StageItemDone {
			done++
		}
	}
	require.Equal(t, 3, done)
}

func TestTimeoutThenRetryFailed(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		if strings.Contains(url, "slow") && !healthy.Load() {
			return timedOut(url)
		}
		return succeed(ctx, url, opts)
	}}
	h := newHarness(t, proc)
	ctx := context.Background()

	batch := h.run(t, spec(2, "https://example.com/fast", "https://example.com/slow"))
	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)
	require.Equal(t, crawler.Counters{Total: 2, Processed: 2, Successful: 1, Failed: 1}, batch.Counters)

	failed, err := h.store.ListItems(ctx, batch.ID, crawler.ItemStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotEmpty(t, failed[0].ErrorMessage)
	require.Equal(t, string(errclass.ConnectionTimeout), failed[0].ErrorType)

	n, err := h.sched.RetryFailed(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	batch, err = h.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusPending, batch.Status)
	require.Nil(t, batch.CompletedAt)
	require.Equal(t, crawler.Counters{Total: 2, Processed: 1, Successful: 1}, batch.Counters)

	item, err := h.store.GetItem(ctx, failed[0].ID)
	require.NoError(t, err)
	require.Equal(t, crawler.ItemStatusPending, item.Status)
	require.Empty(t, item.ErrorMessage)

	// A second retry before restarting changes nothing.
	n, err = h.sched.RetryFailed(ctx, batch.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	healthy.Store(true)
	require.NoError(t, h.sched.Start(ctx, batch.ID))
	batch = h.wait(t, batch.ID)
	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)
	require.Equal(t, crawler.Counters{Total: 2, Processed: 2, Successful: 2}, batch.Counters)
}

func TestCountersStayConsistent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		if calls.Add(1)%3 == 0 {
			return timedOut(url)
		}
		return succeed(ctx, url, opts)
	}}
	h := newHarness(t, proc)
	batch := h.run(t, spec(1, urls(9)...))

	require.Equal(t, crawler.Counters{Total: 9, Processed: 9, Successful: 6, Failed: 3}, batch.Counters)
	last := 0
	for _, evt := range h.events.Events() {
		if evt.Stage != progress.StageItemDone && evt.Stage != progress.StageItemFailed {
			continue
		}
		c := evt.Counters
		require.Equal(t, c.Processed, c.Successful+c.Failed)
		require.LessOrEqual(t, c.Processed, c.Total)
		require.GreaterOrEqual(t, c.Processed, last)
		last = c.Processed
	}
	require.Equal(t, 9, last)
}

func TestWorkerPoolBound(t *testing.T) {
	t.Parallel()

	var (
		active    atomic.Int64
		maxActive atomic.Int64
		tooMany   atomic.Bool
		st        *memory.BatchStore
	)
	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		processing, err := st.ListItems(ctx, opts.BatchID, crawler.ItemStatusProcessing)
		if err != nil || len(processing) > 3 {
			tooMany.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		return succeed(ctx, url, opts)
	}}
	h := newHarness(t, proc)
	st = h.store

	batch := h.run(t, spec(3, urls(12)...))
	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)
	require.Equal(t, 12, batch.Successful)
	require.LessOrEqual(t, maxActive.Load(), int64(3))
	require.False(t, tooMany.Load())
}

func TestPauseMidRun(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	gate := make(chan struct{})
	var calls atomic.Int64
	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		if calls.Add(1) == 2 {
			close(entered)
			<-gate
		}
		return succeed(ctx, url, opts)
	}}
	h := newHarness(t, proc)
	ctx := context.Background()

	batch, err := h.sched.Create(ctx, spec(1, urls(5)...))
	require.NoError(t, err)
	require.NoError(t, h.sched.Start(ctx, batch.ID))

	<-entered
	require.NoError(t, h.sched.Pause(ctx, batch.ID))
	require.True(t, h.sched.Active(batch.ID))

	// Still draining: the batch is busy.
	require.ErrorIs(t, h.sched.Start(ctx, batch.ID), crawler.ErrInvalidTransition)
	_, err = h.sched.RetryFailed(ctx, batch.ID)
	require.ErrorIs(t, err, crawler.ErrBatchRunning)
	require.ErrorIs(t, h.sched.Delete(ctx, batch.ID), crawler.ErrBatchRunning)

	close(gate)
	batch = h.wait(t, batch.ID)
	require.Equal(t, crawler.BatchStatusPaused, batch.Status)
	require.Equal(t, 2, batch.Processed)
	require.Nil(t, batch.CompletedAt)

	pending, err := h.store.ListItems(ctx, batch.ID, crawler.ItemStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	processing, err := h.store.ListItems(ctx, batch.ID, crawler.ItemStatusProcessing)
	require.NoError(t, err)
	require.Empty(t, processing)
	require.Equal(t, progress.StageBatchPaused, h.events.Stages()[len(h.events.Stages())-1])

	require.ErrorIs(t, h.sched.Pause(ctx, batch.ID), crawler.ErrInvalidTransition)

	require.NoError(t, h.sched.Start(ctx, batch.ID))
	batch = h.wait(t, batch.ID)
	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)
	require.Equal(t, crawler.Counters{Total: 5, Processed: 5, Successful: 5}, batch.Counters)
}

func TestScheduledBreaks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	s := spec(1, urls(100)...)
	s.RateLimit.UseScheduledBreaks = true
	s.RateLimit.RequestsBeforeBreak = 50
	s.RateLimit.BreakDuration = 30 * time.Second

	batch := h.run(t, s)
	require.Equal(t, 100, batch.Successful)
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, h.sleeps.Slept())
}

func TestRandomDelayBeforeEachRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	s := spec(1, urls(3)...)
	s.RateLimit.UseRandomDelay = true
	s.RateLimit.RandomDelayMin = time.Second
	s.RateLimit.RandomDelayMax = 5 * time.Second

	h.run(t, s)
	require.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, h.sleeps.Slept())
}

func TestAdaptiveDelay(t *testing.T) {
	t.Parallel()

	var clock *fakeClock
	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		clock.Advance(3 * time.Second)
		return succeed(ctx, url, opts)
	}}
	h := newHarness(t, proc)
	clock = h.clock

	s := spec(1, "https://example.com/slow")
	s.RateLimit.UseAdaptiveDelay = true
	s.RateLimit.AdaptiveDelayFactor = 2

	h.run(t, s)
	require.Equal(t, []time.Duration{6 * time.Second}, h.sleeps.Slept())

	var itemDone progress.Event
	for _, evt := range h.events.Events() {
		if evt.Stage == progress.StageItemDone {
			itemDone = evt
		}
	}
	require.Equal(t, 3*time.Second, itemDone.Dur)
}

func TestStartWithoutItemsFailsBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	ctx := context.Background()
	require.NoError(t, h.store.CreateBatch(ctx, crawler.BatchJob{
		ID:                "empty",
		Name:              "empty",
		Status:            crawler.BatchStatusPending,
		Format:            crawler.FormatText,
		ConcurrentWorkers: 1,
		TimeoutPerURL:     time.Second,
	}, nil))

	err := h.sched.Start(ctx, "empty")
	require.ErrorIs(t, err, crawler.ErrNoItems)
	require.False(t, h.sched.Active("empty"))

	batch, err := h.store.GetBatch(ctx, "empty")
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusFailed, batch.Status)
	require.Equal(t, crawler.ErrNoItems.Error(), batch.ErrorMessage)
	require.Equal(t, []progress.Stage{progress.StageBatchStart, progress.StageBatchFailed}, h.events.Stages())
}

func TestStartRejectsInvalidStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	ctx := context.Background()

	require.ErrorIs(t, h.sched.Start(ctx, "missing"), store.ErrNotFound)

	batch := h.run(t, spec(1, urls(1)...))
	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)
	require.ErrorIs(t, h.sched.Start(ctx, batch.ID), crawler.ErrInvalidTransition)
	require.ErrorIs(t, h.sched.Pause(ctx, batch.ID), crawler.ErrInvalidTransition)
}

func TestClaimFailureFailsBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	broken := &claimFailStore{BatchStore: h.store, err: errors.New("database connection lost")}
	sched, err := New(broken, &fakeProcessor{fn: succeed}, h.clock, &seqIDs{}, WithEmitter(h.events))
	require.NoError(t, err)
	ctx := context.Background()

	batch, err := sched.Create(ctx, spec(1, urls(2)...))
	require.NoError(t, err)
	require.NoError(t, sched.Start(ctx, batch.ID))
	require.NoError(t, sched.Wait(ctx, batch.ID))

	batch, err = h.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusFailed, batch.Status)
	require.Contains(t, batch.ErrorMessage, "database connection lost")
	require.NotNil(t, batch.CompletedAt)
}

type claimFailStore struct {
	*memory.BatchStore
	err error
}

func (s *claimFailStore) ClaimNextItem(context.Context, string, time.Time) (crawler.BatchItem, error) {
	return crawler.BatchItem{}, s.err
}

func TestRetryItem(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		if strings.HasSuffix(url, "/bad") {
			return timedOut(url)
		}
		return succeed(ctx, url, opts)
	}}
	h := newHarness(t, proc)
	ctx := context.Background()

	batch := h.run(t, spec(1, "https://example.com/good", "https://example.com/bad"))
	items, err := h.store.ListItems(ctx, batch.ID, "")
	require.NoError(t, err)
	good, bad := items[0], items[1]

	_, err = h.sched.RetryItem(ctx, good.ID)
	require.ErrorIs(t, err, crawler.ErrItemNotRetryable)

	reset, err := h.sched.RetryItem(ctx, bad.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.ItemStatusPending, reset.Status)
	require.Empty(t, reset.ErrorMessage)

	batch, err = h.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusPending, batch.Status)
	require.Equal(t, crawler.Counters{Total: 2, Processed: 1, Successful: 1}, batch.Counters)

	_, err = h.sched.RetryItem(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetryFailedRejectsPaused(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	ctx := context.Background()
	batch, err := h.sched.Create(ctx, spec(1, urls(1)...))
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateBatch(ctx, batch.ID, store.StatusUpdate{Status: crawler.BatchStatusPaused}))

	_, err = h.sched.RetryFailed(ctx, batch.ID)
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	ctx := context.Background()
	batch := h.run(t, spec(1, urls(2)...))

	require.NoError(t, h.sched.Delete(ctx, batch.ID))
	_, err := h.store.GetBatch(ctx, batch.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Running in the store without a live loop still counts as running.
	orphan, err := h.sched.Create(ctx, spec(1, urls(1)...))
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateBatch(ctx, orphan.ID, store.StatusUpdate{Status: crawler.BatchStatusRunning}))
	require.ErrorIs(t, h.sched.Delete(ctx, orphan.ID), crawler.ErrBatchRunning)
}

func TestRecoverPausesOrphanedBatches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	ctx := context.Background()
	batch, err := h.sched.Create(ctx, spec(1, urls(2)...))
	require.NoError(t, err)

	// Simulate a crash mid-item.
	require.NoError(t, h.store.UpdateBatch(ctx, batch.ID, store.StatusUpdate{Status: crawler.BatchStatusRunning}))
	_, err = h.store.ClaimNextItem(ctx, batch.ID, h.clock.Now())
	require.NoError(t, err)

	n, err := h.sched.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	batch, err = h.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusPaused, batch.Status)
	pending, err := h.store.ListItems(ctx, batch.ID, crawler.ItemStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, h.sched.Start(ctx, batch.ID))
	batch = h.wait(t, batch.ID)
	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)
	require.Equal(t, 2, batch.Successful)
}

func TestPauseOrphanedRunningBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeProcessor{fn: succeed})
	ctx := context.Background()
	batch, err := h.sched.Create(ctx, spec(1, urls(1)...))
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateBatch(ctx, batch.ID, store.StatusUpdate{Status: crawler.BatchStatusRunning}))

	require.NoError(t, h.sched.Pause(ctx, batch.ID))
	batch, err = h.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusPaused, batch.Status)
}

func TestCloseDeadlineLeavesBatchResumable(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	var once sync.Once
	proc := &fakeProcessor{fn: func(ctx context.Context, url string, _ worker.Options) worker.Result {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return worker.Result{Error: "crawl canceled: " + ctx.Err().Error(), ErrorType: errclass.Unknown}
	}}
	h := newHarness(t, proc)
	ctx := context.Background()

	batch, err := h.sched.Create(ctx, spec(1, urls(3)...))
	require.NoError(t, err)
	require.NoError(t, h.sched.Start(ctx, batch.ID))
	<-entered

	closeCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = h.sched.Close(closeCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, h.sched.Start(ctx, batch.ID), ErrClosed)

	batch, err = h.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusPaused, batch.Status)
	require.Zero(t, batch.Processed)

	// A fresh scheduler requeues the interrupted item and finishes the batch.
	next, err := New(h.store, &fakeProcessor{fn: succeed}, h.clock, &seqIDs{})
	require.NoError(t, err)
	require.NoError(t, next.Start(ctx, batch.ID))
	require.NoError(t, next.Wait(ctx, batch.ID))
	batch, err = h.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)
	require.Equal(t, crawler.Counters{Total: 3, Processed: 3, Successful: 3}, batch.Counters)
}

func TestSingleWorkerProcessesInInsertionOrder(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []string
	)
	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		mu.Lock()
		seen = append(seen, url)
		mu.Unlock()
		return succeed(ctx, url, opts)
	}}
	h := newHarness(t, proc)
	want := []string{
		"https://c.example/3",
		"https://a.example/1",
		"https://b.example/2",
		"https://a.example/1",
		"https://d.example/0",
	}

	batch := h.run(t, spec(1, want...))
	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, want, seen)
}

func TestCountersConsistentAcrossWorkers(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		time.Sleep(time.Millisecond)
		if strings.HasSuffix(url, "/3") || strings.HasSuffix(url, "/7") || strings.HasSuffix(url, "/11") {
			return timedOut(url)
		}
		return succeed(ctx, url, opts)
	}}
	h := newHarness(t, proc)
	batch := h.run(t, spec(4, urls(16)...))

	require.Equal(t, crawler.Counters{Total: 16, Processed: 16, Successful: 13, Failed: 3}, batch.Counters)
	seen := map[int]bool{}
	var finished int
	for _, evt := range h.events.Events() {
		if evt.Stage != progress.StageItemDone && evt.Stage != progress.StageItemFailed {
			continue
		}
		finished++
		c := evt.Counters
		require.Equal(t, 16, c.Total)
		require.Equal(t, c.Processed, c.Successful+c.Failed)
		require.LessOrEqual(t, c.Processed, c.Total)
		require.LessOrEqual(t, c.Failed, 3)
		// Each completion bumps Processed by exactly one, so no value repeats.
		require.False(t, seen[c.Processed], "processed %d reported twice", c.Processed)
		seen[c.Processed] = true
	}
	require.Equal(t, 16, finished)
	for n := 1; n <= 16; n++ {
		require.True(t, seen[n], "processed %d never reported", n)
	}
}

func TestScheduledBreakCountRestartsOnResume(t *testing.T) {
	t.Parallel()

	var (
		h       *harness
		mu      sync.Mutex
		breaks  []int
		calls   atomic.Int64
		entered = make(chan struct{})
		gate    = make(chan struct{})
	)
	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		mu.Lock()
		breaks = append(breaks, len(h.sleeps.Slept()))
		mu.Unlock()
		if calls.Add(1) == 2 {
			close(entered)
			<-gate
		}
		return succeed(ctx, url, opts)
	}}
	h = newHarness(t, proc)
	ctx := context.Background()

	s := spec(1, urls(5)...)
	s.RateLimit.UseScheduledBreaks = true
	s.RateLimit.RequestsBeforeBreak = 3
	s.RateLimit.BreakDuration = 30 * time.Second
	batch, err := h.sched.Create(ctx, s)
	require.NoError(t, err)
	require.NoError(t, h.sched.Start(ctx, batch.ID))

	<-entered
	require.NoError(t, h.sched.Pause(ctx, batch.ID))
	close(gate)
	batch = h.wait(t, batch.ID)
	require.Equal(t, crawler.BatchStatusPaused, batch.Status)
	require.Equal(t, 2, batch.Processed)

	require.NoError(t, h.sched.Start(ctx, batch.ID))
	batch = h.wait(t, batch.ID)
	require.Equal(t, crawler.BatchStatusCompleted, batch.Status)

	// The resumed run counts from one again: its third item, the fifth overall, takes the break.
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 0, 0, 0, 1}, breaks)
	require.Equal(t, []time.Duration{30 * time.Second}, h.sleeps.Slept())
}

// staleStore reports a batch as pending while another process has already started it.
type staleStore struct {
	*memory.BatchStore
}

func (s *staleStore) GetBatch(ctx context.Context, id string) (crawler.BatchJob, error) {
	batch, err := s.BatchStore.GetBatch(ctx, id)
	batch.Status = crawler.BatchStatusPending
	return batch, err
}

func TestStartLosesToAnotherProcess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	proc := &fakeProcessor{fn: func(ctx context.Context, url string, opts worker.Options) worker.Result {
		calls.Add(1)
		return succeed(ctx, url, opts)
	}}
	h := newHarness(t, proc)
	ctx := context.Background()
	batch, err := h.sched.Create(ctx, spec(1, urls(2)...))
	require.NoError(t, err)

	// The other process owns the run and has one item in flight.
	_, err = h.store.ClaimNextItem(ctx, batch.ID, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateBatch(ctx, batch.ID, store.StatusUpdate{Status: crawler.BatchStatusRunning}))

	sched, err := New(&staleStore{BatchStore: h.store}, proc, h.clock, &seqIDs{})
	require.NoError(t, err)
	require.ErrorIs(t, sched.Start(ctx, batch.ID), crawler.ErrInvalidTransition)
	require.False(t, sched.Active(batch.ID))

	processing, err := h.store.ListItems(ctx, batch.ID, crawler.ItemStatusProcessing)
	require.NoError(t, err)
	require.Len(t, processing, 1, "the other process's item is left alone")
	require.Zero(t, calls.Load())
}

func TestRetryFailedLeavesRestartedBatchAlone(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{fn: func(_ context.Context, url string, _ worker.Options) worker.Result {
		return timedOut(url)
	}}
	h := newHarness(t, proc)
	batch := h.run(t, spec(1, urls(2)...))
	require.Equal(t, 2, batch.Failed)

	// Another process already restarted it after its own retry.
	ctx := context.Background()
	require.NoError(t, h.store.UpdateBatch(ctx, batch.ID, store.StatusUpdate{Status: crawler.BatchStatusRunning}))
	sched, err := New(&completedView{BatchStore: h.store}, proc, h.clock, &seqIDs{})
	require.NoError(t, err)

	_, err = sched.RetryFailed(ctx, batch.ID)
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)
	batch, err = h.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, 2, batch.Failed, "counters untouched")
}

// completedView reports a batch as completed regardless of its stored status.
type completedView struct {
	*memory.BatchStore
}

func (s *completedView) GetBatch(ctx context.Context, id string) (crawler.BatchJob, error) {
	batch, err := s.BatchStore.GetBatch(ctx, id)
	batch.Status = crawler.BatchStatusCompleted
	return batch, err
}
