package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/batchcrawl/internal/progress"
)

// PrometheusSink exports run-level progress metrics: batches started, running
// and finished, per-run wall time, and item failures by error type.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	itemsFailed  *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchcrawl_progress_runs_started_total",
			Help: "Dispatch runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchcrawl_progress_runs_finished_total",
			Help: "Dispatch runs finished partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batchcrawl_progress_runs_active",
			Help: "Dispatch runs currently active.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchcrawl_progress_run_duration_seconds",
			Help:    "Wall time per dispatch run.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		itemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchcrawl_progress_item_failures_total",
			Help: "Failed items partitioned by classified error type.",
		}, []string{"error_type"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsActive,
		s.runDuration,
		s.itemsFailed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.BatchID) {
				s.runsActive.Inc()
			}
		case progress.StageBatchPaused, progress.StageBatchDone, progress.StageBatchFailed:
			result := resultLabel(evt.Stage)
			s.runsFinished.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.tracker.finish(evt.BatchID) {
				s.runsActive.Dec()
			}
		case progress.StageItemFailed:
			errType := evt.ErrorType
			if errType == "" {
				errType = "unknown_error"
			}
			s.itemsFailed.WithLabelValues(errType).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func resultLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageBatchPaused:
		return "paused"
	case progress.StageBatchFailed:
		return "failed"
	default:
		return "completed"
	}
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) finish(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
