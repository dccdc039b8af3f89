// Package scheduler runs batches: it owns the worker pool, the per-item queue
// and the pause/resume/retry protocol. The store is the single source of truth;
// the scheduler only keeps which batches have a live dispatch loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/metrics"
	"github.com/JakeFAU/batchcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/batchcrawl/internal/progress"
	"github.com/JakeFAU/batchcrawl/internal/store"
	"github.com/JakeFAU/batchcrawl/internal/worker"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("scheduler closed")

var errStopping = errors.New("dispatch stopping")

const storeTimeout = 30 * time.Second

// Processor crawls one URL and reports the outcome. *worker.Worker satisfies it.
type Processor interface {
	Process(ctx context.Context, url string, opts worker.Options, timeout time.Duration) worker.Result
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithDelays sets the delay policy. The default draws random delays from a time-seeded source.
func WithDelays(d *ratelimit.Delays) Option {
	return func(s *Scheduler) {
		if d != nil {
			s.delays = d
		}
	}
}

// WithHostLimiter throttles requests per host across all batches.
func WithHostLimiter(l *ratelimit.HostLimiter) Option {
	return func(s *Scheduler) { s.hosts = l }
}

// WithEmitter routes progress events, typically to a progress.Hub.
func WithEmitter(e progress.Emitter) Option {
	return func(s *Scheduler) {
		if e != nil {
			s.events = e
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSleep replaces the context-aware sleep used for politeness delays.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// Scheduler dispatches batch items to a Processor.
type Scheduler struct {
	store  store.BatchStore
	proc   Processor
	clock  crawler.Clock
	ids    crawler.IDGenerator
	delays *ratelimit.Delays
	hosts  *ratelimit.HostLimiter
	events progress.Emitter
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
}

// run is the in-memory handle of one live dispatch loop.
type run struct {
	loopCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	stopping bool
	issued   int // requests issued in this run; drives scheduled breaks
}

// stop prevents further claims. Items already claimed finish.
func (r *run) stop() {
	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()
	r.cancel()
}

// New constructs a Scheduler.
func New(
	st store.BatchStore,
	proc Processor,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	opts ...Option,
) (*Scheduler, error) {
	switch {
	case st == nil:
		return nil, errors.New("batch store is required")
	case proc == nil:
		return nil, errors.New("processor is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	case ids == nil:
		return nil, errors.New("id generator is required")
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:   st,
		proc:    proc,
		clock:   clock,
		ids:     ids,
		delays:  ratelimit.NewDelays(nil),
		events:  progress.Nop{},
		logger:  zap.NewNop(),
		sleep:   ratelimit.Sleep,
		baseCtx: baseCtx,
		cancel:  cancel,
		runs:    make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create validates spec and stores a pending batch with one pending item per URL.
func (s *Scheduler) Create(ctx context.Context, spec crawler.BatchSpec) (crawler.BatchJob, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	urls := make([]string, len(spec.URLs))
	for i, u := range spec.URLs {
		urls[i] = strings.TrimSpace(u)
	}
	spec.URLs = urls
	if err := spec.Validate(); err != nil {
		return crawler.BatchJob{}, err
	}

	batchID, err := s.ids.NewID()
	if err != nil {
		return crawler.BatchJob{}, fmt.Errorf("generate batch id: %w", err)
	}
	outputDir := strings.Trim(spec.OutputDir, "/")
	if outputDir == "" {
		outputDir = batchID
	}
	batch := crawler.BatchJob{
		ID:                batchID,
		Name:              spec.Name,
		Description:       spec.Description,
		URLs:              urls,
		Status:            crawler.BatchStatusPending,
		CreatedAt:         s.clock.Now(),
		OutputDir:         outputDir,
		Format:            spec.Format,
		ConcurrentWorkers: spec.ConcurrentWorkers,
		TimeoutPerURL:     spec.TimeoutPerURL,
		Content:           spec.Content,
		RateLimit:         spec.RateLimit,
		Counters:          crawler.Counters{Total: len(urls)},
	}
	items := make([]crawler.BatchItem, 0, len(urls))
	for i, u := range urls {
		itemID, err := s.ids.NewID()
		if err != nil {
			return crawler.BatchJob{}, fmt.Errorf("generate item id: %w", err)
		}
		items = append(items, crawler.BatchItem{
			ID:       itemID,
			BatchID:  batchID,
			Position: i,
			URL:      u,
			Status:   crawler.ItemStatusPending,
		})
	}
	if err := s.store.CreateBatch(ctx, batch, items); err != nil {
		return crawler.BatchJob{}, fmt.Errorf("create batch: %w", err)
	}
	s.logger.Info("batch created",
		zap.String("batch_id", batchID),
		zap.String("name", batch.Name),
		zap.Int("total", batch.Total),
	)
	return batch, nil
}

// Start moves a pending or paused batch to running and launches its dispatch
// loop in the background.
func (s *Scheduler) Start(ctx context.Context, id string) error {
	r, err := s.reserve(id)
	if err != nil {
		return err
	}
	launched := false
	defer func() {
		if !launched {
			s.release(id, r)
		}
	}()

	batch, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if err := crawler.ValidateTransition(batch.Status, crawler.BatchStatusRunning); err != nil {
		return fmt.Errorf("start batch %s: %w", id, err)
	}

	// The status guard makes the store the arbiter when several processes share it.
	now := s.clock.Now()
	cleared := ""
	if err := s.store.UpdateBatch(ctx, id, store.StatusUpdate{
		Status:       crawler.BatchStatusRunning,
		StartedAt:    &now,
		ErrorMessage: &cleared,
		From:         []crawler.BatchStatus{crawler.BatchStatusPending, crawler.BatchStatusPaused},
	}); err != nil {
		return fmt.Errorf("mark batch running: %w", err)
	}
	batch.Status = crawler.BatchStatusRunning
	batch.ErrorMessage = ""
	if batch.StartedAt == nil {
		batch.StartedAt = &now
	}
	s.events.Emit(s.batchEvent(batch, progress.StageBatchStart))

	requeued, err := s.store.RequeueProcessing(ctx, id)
	if err != nil {
		return s.fail(ctx, batch, fmt.Errorf("requeue interrupted items: %w", err))
	}
	if requeued > 0 {
		s.logger.Info("requeued interrupted items", zap.String("batch_id", id), zap.Int("count", requeued))
	}

	if batch.Total == 0 {
		return s.fail(ctx, batch, crawler.ErrNoItems)
	}

	launched = true
	go s.dispatch(r, batch)
	s.logger.Info("batch started",
		zap.String("batch_id", id),
		zap.Int("workers", batch.ConcurrentWorkers),
		zap.Int("remaining", batch.RemainingURLs()),
	)
	return nil
}

// Pause asks a running batch to stop pulling new items. In-flight items finish
// and the batch becomes paused once its loop has drained; use Wait to block
// until then.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	s.mu.Lock()
	r := s.runs[id]
	s.mu.Unlock()
	if r != nil {
		r.stop()
		s.logger.Info("batch pause requested", zap.String("batch_id", id))
		return nil
	}

	batch, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if !crawler.CanPause(batch.Status) {
		return fmt.Errorf("pause batch %s in status %s: %w", id, batch.Status, crawler.ErrInvalidTransition)
	}
	// Running in the store without a local loop: a previous process died mid-run.
	return s.markPaused(ctx, batch)
}

// Wait blocks until the batch's dispatch loop, if any, has exited.
func (s *Scheduler) Wait(ctx context.Context, id string) error {
	s.mu.Lock()
	r := s.runs[id]
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for batch %s: %w", id, ctx.Err())
	}
}

// Active reports whether a dispatch loop is live for the batch.
func (s *Scheduler) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id] != nil
}

// Recover repairs state left by a crashed process: every batch left running
// without a local loop gets its processing items requeued and becomes paused.
// It returns how many batches were recovered.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	running, err := s.store.ListBatches(ctx, store.BatchFilter{Status: crawler.BatchStatusRunning})
	if err != nil {
		return 0, fmt.Errorf("list running batches: %w", err)
	}
	recovered := 0
	for _, batch := range running {
		if s.Active(batch.ID) {
			continue
		}
		if err := s.markPaused(ctx, batch); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Warn("recovered interrupted batches", zap.Int("count", recovered))
	}
	return recovered, nil
}

// Close pauses every running batch and waits for the loops to drain. When ctx
// expires first, in-flight crawls are canceled; their items stay processing
// and are requeued by the next Start or Recover.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		r.stop()
	}
	var err error
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("scheduler close: %w", ctx.Err())
				s.cancel()
			}
			<-r.done
		}
	}
	s.cancel()
	return err
}

// reserve registers a run for id so that concurrent Start, retry and delete
// calls see the batch as busy.
func (s *Scheduler) reserve(id string) (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.runs[id] != nil {
		return nil, fmt.Errorf("batch %s is still dispatching: %w", id, crawler.ErrInvalidTransition)
	}
	loopCtx, cancel := context.WithCancel(s.baseCtx)
	r := &run{loopCtx: loopCtx, cancel: cancel, done: make(chan struct{})}
	s.runs[id] = r
	return r, nil
}

func (s *Scheduler) release(id string, r *run) {
	s.mu.Lock()
	if s.runs[id] == r {
		delete(s.runs, id)
	}
	s.mu.Unlock()
	r.cancel()
	close(r.done)
}

// whileIdle runs fn with the batch guaranteed to have no live loop.
func (s *Scheduler) whileIdle(id string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[id] != nil {
		return fmt.Errorf("batch %s: %w", id, crawler.ErrBatchRunning)
	}
	return fn()
}

func (s *Scheduler) markPaused(ctx context.Context, batch crawler.BatchJob) error {
	if _, err := s.store.RequeueProcessing(ctx, batch.ID); err != nil {
		return fmt.Errorf("requeue interrupted items: %w", err)
	}
	if err := s.store.UpdateBatch(ctx, batch.ID, store.StatusUpdate{Status: crawler.BatchStatusPaused}); err != nil {
		return fmt.Errorf("mark batch paused: %w", err)
	}
	batch.Status = crawler.BatchStatusPaused
	s.events.Emit(s.batchEvent(batch, progress.StageBatchPaused))
	metrics.ObserveBatch(string(crawler.BatchStatusPaused))
	return nil
}

// fail records a scheduler-fatal error on the batch and returns cause.
func (s *Scheduler) fail(ctx context.Context, batch crawler.BatchJob, cause error) error {
	now := s.clock.Now()
	msg := cause.Error()
	err := s.store.UpdateBatch(ctx, batch.ID, store.StatusUpdate{
		Status:       crawler.BatchStatusFailed,
		CompletedAt:  &now,
		ErrorMessage: &msg,
	})
	if err != nil {
		s.logger.Error("mark batch failed", zap.String("batch_id", batch.ID), zap.Error(err))
		return errors.Join(cause, fmt.Errorf("mark batch failed: %w", err))
	}
	batch.Status = crawler.BatchStatusFailed
	batch.ErrorMessage = msg
	evt := s.batchEvent(batch, progress.StageBatchFailed)
	evt.Note = msg
	s.events.Emit(evt)
	metrics.ObserveBatch(string(crawler.BatchStatusFailed))
	s.logger.Error("batch failed", zap.String("batch_id", batch.ID), zap.Error(cause))
	return cause
}

func (s *Scheduler) batchEvent(batch crawler.BatchJob, stage progress.Stage) progress.Event {
	return progress.Event{
		BatchID:   batch.ID,
		BatchName: batch.Name,
		TS:        s.clock.Now(),
		Stage:     stage,
		Counters:  batch.Counters,
	}
}

func (s *Scheduler) itemEvent(batch crawler.BatchJob, item crawler.BatchItem, stage progress.Stage) progress.Event {
	return progress.Event{
		BatchID:   batch.ID,
		BatchName: batch.Name,
		ItemID:    item.ID,
		TS:        s.clock.Now(),
		Stage:     stage,
		URL:       item.URL,
		Counters:  crawler.Counters{Total: batch.Total},
	}
}
