package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/store"
)

// RetryFailed moves every failed item of a completed or failed batch back to
// pending and returns how many moved. The batch becomes pending so it can be
// started again. Calling it again before the next Start resets nothing.
func (s *Scheduler) RetryFailed(ctx context.Context, id string) (int, error) {
	var reset int
	err := s.whileIdle(id, func() error {
		batch, err := s.store.GetBatch(ctx, id)
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}
		if batch.Status == crawler.BatchStatusPending {
			return nil
		}
		if !crawler.CanRetry(batch.Status) {
			return fmt.Errorf("retry batch %s in status %s: %w", id, batch.Status, crawler.ErrInvalidTransition)
		}
		if err := s.reopen(ctx, id); err != nil {
			return err
		}
		n, err := s.store.ResetFailedItems(ctx, id)
		if err != nil {
			return fmt.Errorf("reset failed items: %w", err)
		}
		reset = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("failed items reset", zap.String("batch_id", id), zap.Int("count", reset))
	return reset, nil
}

// RetryItem moves one failed item back to pending. The parent batch must not
// be running; a completed or failed parent becomes pending again.
func (s *Scheduler) RetryItem(ctx context.Context, itemID string) (crawler.BatchItem, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return crawler.BatchItem{}, fmt.Errorf("load item: %w", err)
	}
	var reset crawler.BatchItem
	err = s.whileIdle(item.BatchID, func() error {
		batch, err := s.store.GetBatch(ctx, item.BatchID)
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}
		if batch.Status == crawler.BatchStatusRunning {
			return fmt.Errorf("batch %s: %w", batch.ID, crawler.ErrBatchRunning)
		}
		reset, err = s.store.ResetItem(ctx, itemID)
		if err != nil {
			return fmt.Errorf("reset item: %w", err)
		}
		if crawler.IsTerminal(batch.Status) {
			return s.reopen(ctx, batch.ID)
		}
		return nil
	})
	if err != nil {
		return crawler.BatchItem{}, err
	}
	s.logger.Info("item reset", zap.String("batch_id", item.BatchID), zap.String("item_id", itemID))
	return reset, nil
}

// Delete removes a batch that is not running, with its items and results.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	return s.whileIdle(id, func() error {
		batch, err := s.store.GetBatch(ctx, id)
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}
		if !crawler.CanDelete(batch.Status) {
			return fmt.Errorf("delete batch %s: %w", id, crawler.ErrBatchRunning)
		}
		if err := s.store.DeleteBatch(ctx, id); err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}
		s.logger.Info("batch deleted", zap.String("batch_id", id))
		return nil
	})
}

// reopen moves a completed or failed batch back to pending.
func (s *Scheduler) reopen(ctx context.Context, id string) error {
	cleared := ""
	if err := s.store.UpdateBatch(ctx, id, store.StatusUpdate{
		Status:           crawler.BatchStatusPending,
		ClearCompletedAt: true,
		ErrorMessage:     &cleared,
		From:             []crawler.BatchStatus{crawler.BatchStatusCompleted, crawler.BatchStatusFailed},
	}); err != nil {
		return fmt.Errorf("reopen batch: %w", err)
	}
	return nil
}
