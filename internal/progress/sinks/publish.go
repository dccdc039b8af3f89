package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/progress"
)

// Notification is the payload published when a batch finishes.
type Notification struct {
	BatchID     string    `json:"batch_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Total       int       `json:"total"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completed_at"`
}

// PublishSink publishes a Notification for every BATCH_DONE and BATCH_FAILED event.
type PublishSink struct {
	publisher crawler.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink builds a sink that publishes to topic.
func NewPublishSink(publisher crawler.Publisher, topic string, logger *zap.Logger) (*PublishSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes notifications. Every notification is attempted; the
// returned error joins the individual failures.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		var status crawler.BatchStatus
		switch evt.Stage {
		case progress.StageBatchDone:
			status = crawler.BatchStatusCompleted
		case progress.StageBatchFailed:
			status = crawler.BatchStatusFailed
		default:
			continue
		}
		msg := Notification{
			BatchID:     evt.BatchID,
			Name:        evt.BatchName,
			Status:      string(status),
			Total:       evt.Counters.Total,
			Successful:  evt.Counters.Successful,
			Failed:      evt.Counters.Failed,
			CompletedAt: evt.TS,
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish batch %s: %w", evt.BatchID, err))
			continue
		}
		s.logger.Info("batch notification published",
			zap.String("batch_id", evt.BatchID),
			zap.String("status", msg.Status),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
