package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart  Stage = "BATCH_START"
	StageBatchPaused Stage = "BATCH_PAUSED"
	StageBatchDone   Stage = "BATCH_DONE"
	StageBatchFailed Stage = "BATCH_FAILED"
	StageItemStart   Stage = "ITEM_START"
	StageItemDone    Stage = "ITEM_DONE"
	StageItemFailed  Stage = "ITEM_FAILED"
)

// IsBatch reports whether the stage describes the batch rather than one item.
func (s Stage) IsBatch() bool {
	switch s {
	case StageBatchStart, StageBatchPaused, StageBatchDone, StageBatchFailed:
		return true
	default:
		return false
	}
}

// Final reports whether the stage ends a dispatch run.
func (s Stage) Final() bool {
	return s == StageBatchPaused || s == StageBatchDone || s == StageBatchFailed
}

// Event captures a single batch or item milestone.
type Event struct {
	BatchID   string
	BatchName string
	// ItemID is set for ITEM_* stages.
	ItemID string
	TS     time.Time
	Stage  Stage
	URL    string
	// Counters is the batch snapshot after the event was applied.
	Counters crawler.Counters
	// Dur is the item's crawl time, or the run's wall time for final batch stages.
	Dur       time.Duration
	ErrorType string
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == "" {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchPaused, StageBatchDone, StageBatchFailed:
	case StageItemStart, StageItemDone, StageItemFailed:
		if e.ItemID == "" {
			return fmt.Errorf("%s requires item id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
