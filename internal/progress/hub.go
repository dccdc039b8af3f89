package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 100).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Stats reports hub throughput since creation.
type Stats struct {
	Emitted int64
	Dropped int64
	Flushes int64
}

// Hub aggregates events and fans them out to registered sinks. It is safe for
// concurrent use and never blocks callers.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	emitted      atomic.Int64
	dropped      atomic.Int64
	unreported   atomic.Int64
	flushes      atomic.Int64
	lastDropWarn atomic.Int64
	closed       atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the background batching goroutine over sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
		closeCtx: context.Background(),
	}
	go h.run()
	return h
}

// Emit enqueues an Event. If the buffer is full the event is dropped and a
// rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		h.emitted.Add(1)
	default:
		h.dropped.Add(1)
		h.unreported.Add(1)
		h.warnDropped(time.Now())
	}
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Emitted: h.emitted.Load(),
		Dropped: h.dropped.Load(),
		Flushes: h.flushes.Load(),
	}
}

// Close drains remaining events, flushes and closes sinks, and waits for the
// background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) warnDropped(now time.Time) {
	last := h.lastDropWarn.Load()
	if now.UnixNano()-last < dropLogInterval.Nanoseconds() {
		return
	}
	if !h.lastDropWarn.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", h.unreported.Swap(0)))
}

func (h *Hub) run() {
	defer close(h.doneCh)
	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()
	oldest := time.Time{}

	for {
		select {
		case evt := <-h.events:
			if len(pending) == 0 {
				oldest = time.Now()
			}
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.flush(pending)
			}
		case now := <-ticker.C:
			if len(pending) > 0 && now.Sub(oldest) >= h.cfg.MaxBatchWait/2 {
				pending = h.flush(pending)
			}
		case <-h.stopCh:
			h.drain(pending)
			return
		}
	}
}

func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.flush(pending)
			}
		default:
			h.flush(pending)
			h.closeSinks()
			return
		}
	}
}

// flush hands a copy of pending to every sink and returns pending emptied.
func (h *Hub) flush(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	h.flushes.Add(1)
	batch := append([]Event(nil), pending...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return pending[:0]
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(h.closeCtx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
