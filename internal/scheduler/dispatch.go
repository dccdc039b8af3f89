package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/metrics"
	"github.com/JakeFAU/batchcrawl/internal/progress"
	"github.com/JakeFAU/batchcrawl/internal/store"
	"github.com/JakeFAU/batchcrawl/internal/telemetry"
	"github.com/JakeFAU/batchcrawl/internal/worker"
)

// dispatch pulls items in Position order and runs at most ConcurrentWorkers of
// them at once. A slot is taken before an item is claimed, so the number of
// processing items never exceeds the pool size.
func (s *Scheduler) dispatch(r *run, batch crawler.BatchJob) {
	defer s.release(batch.ID, r)

	ctx, span := telemetry.Tracer().Start(s.baseCtx, "scheduler.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", batch.ID),
		attribute.Int("batch.workers", batch.ConcurrentWorkers),
		attribute.Int("batch.total", batch.Total),
	)
	start := time.Now()

	slots := semaphore.NewWeighted(int64(max(batch.ConcurrentWorkers, 1)))
	g, gctx := errgroup.WithContext(ctx)
	var fatal error
	for {
		// loopCtx is canceled by Pause and Close.
		if err := slots.Acquire(r.loopCtx, 1); err != nil {
			break
		}
		if gctx.Err() != nil {
			slots.Release(1)
			break
		}
		item, n, err := s.claim(gctx, r, batch.ID)
		if err != nil {
			slots.Release(1)
			if !errors.Is(err, errStopping) && !errors.Is(err, store.ErrNotFound) && gctx.Err() == nil {
				fatal = fmt.Errorf("claim next item: %w", err)
			}
			break
		}
		g.Go(func() error {
			defer slots.Release(1)
			return s.runItem(gctx, batch, item, n)
		})
	}
	if err := g.Wait(); err != nil && fatal == nil {
		fatal = err
	}
	s.finalize(batch, fatal, time.Since(start), span)
}

func (s *Scheduler) claim(ctx context.Context, r *run, batchID string) (crawler.BatchItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return crawler.BatchItem{}, 0, errStopping
	}
	item, err := s.store.ClaimNextItem(ctx, batchID, s.clock.Now())
	if err != nil {
		return crawler.BatchItem{}, 0, err
	}
	r.issued++
	return item, r.issued, nil
}

// runItem takes one claimed item through the delays, the crawl and the store
// update. Only a failed store update is returned; item failures are recorded.
// An item interrupted by shutdown is left processing for the next run to requeue.
func (s *Scheduler) runItem(ctx context.Context, batch crawler.BatchJob, item crawler.BatchItem, n int) error {
	s.events.Emit(s.itemEvent(batch, item, progress.StageItemStart))

	if d, kind := s.delays.BeforeRequest(batch.RateLimit, n); d > 0 {
		metrics.ObserveDelay(string(kind), d)
		if err := s.sleep(ctx, d); err != nil {
			return nil
		}
	}
	waited, err := s.hosts.Wait(ctx, item.URL)
	if err != nil {
		return nil
	}
	metrics.ObserveDelay(metrics.DelayHost, waited)

	before := s.clock.Now()
	res := s.proc.Process(ctx, item.URL, worker.Options{
		BatchID:   batch.ID,
		ItemID:    item.ID,
		Format:    batch.Format,
		OutputDir: batch.OutputDir,
		Content:   batch.Content,
	}, batch.TimeoutPerURL)
	elapsed := max(s.clock.Now().Sub(before), 0)
	if !res.Success && ctx.Err() != nil {
		return nil
	}

	if d := s.delays.AfterResponse(batch.RateLimit, elapsed); d > 0 {
		metrics.ObserveDelay(metrics.DelayAdaptive, d)
		_ = s.sleep(ctx, d)
	}

	completion := store.ItemCompletion{ItemID: item.ID, CompletedAt: s.clock.Now()}
	stage := progress.StageItemDone
	if res.Success {
		completion.Status = crawler.ItemStatusCompleted
		completion.Result = res.Metadata
	} else {
		completion.Status = crawler.ItemStatusFailed
		completion.ErrorMessage = res.Error
		completion.ErrorType = string(res.ErrorType)
		stage = progress.StageItemFailed
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	counters, err := s.store.CompleteItem(storeCtx, batch.ID, completion)
	if err != nil {
		return fmt.Errorf("complete item %s: %w", item.ID, err)
	}

	evt := s.itemEvent(batch, item, stage)
	evt.Counters = counters
	evt.Dur = elapsed
	evt.ErrorType = completion.ErrorType
	evt.Note = completion.ErrorMessage
	s.events.Emit(evt)
	return nil
}

// finalize settles the batch status once the loop and every in-flight item are done.
func (s *Scheduler) finalize(batch crawler.BatchJob, fatal error, dur time.Duration, span trace.Span) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), storeTimeout)
	defer cancel()

	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "dispatch failed")
		_ = s.fail(ctx, batch, fatal)
		return
	}

	current, err := s.store.GetBatch(ctx, batch.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load batch")
		s.logger.Error("load batch after dispatch", zap.String("batch_id", batch.ID), zap.Error(err))
		return
	}
	update := store.StatusUpdate{Status: crawler.BatchStatusPaused}
	stage := progress.StageBatchPaused
	if current.RemainingURLs() == 0 {
		now := s.clock.Now()
		update = store.StatusUpdate{Status: crawler.BatchStatusCompleted, CompletedAt: &now}
		stage = progress.StageBatchDone
		current.CompletedAt = &now
	}
	if err := s.store.UpdateBatch(ctx, batch.ID, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update batch")
		s.logger.Error("settle batch status", zap.String("batch_id", batch.ID), zap.Error(err))
		return
	}
	current.Status = update.Status

	evt := s.batchEvent(current, stage)
	evt.Dur = dur
	s.events.Emit(evt)
	metrics.ObserveBatch(string(update.Status))
	span.SetAttributes(attribute.String("batch.status", string(update.Status)))
	s.logger.Info("batch dispatch finished",
		zap.String("batch_id", batch.ID),
		zap.String("status", string(update.Status)),
		zap.Int("processed", current.Processed),
		zap.Int("successful", current.Successful),
		zap.Int("failed", current.Failed),
		zap.Duration("dur", dur),
	)
}
