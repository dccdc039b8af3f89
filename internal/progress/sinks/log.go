package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/batchcrawl/internal/progress"
)

// LogSink writes one structured log line per event. Batch stages log at Info,
// item stages at Debug, failures at Warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("processed", evt.Counters.Processed),
			zap.Int("total", evt.Counters.Total),
		}
		if evt.ItemID != "" {
			fields = append(fields, zap.String("item_id", evt.ItemID), zap.String("url", evt.URL))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.ErrorType != "" {
			fields = append(fields, zap.String("error_type", evt.ErrorType))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if ce := s.logger.Check(levelFor(evt.Stage), "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageItemFailed, progress.StageBatchFailed:
		return zapcore.WarnLevel
	case progress.StageItemStart, progress.StageItemDone:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
