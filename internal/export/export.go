// Package export builds the read-only dump of a batch's crawled results.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/store"
)

// Summary is the batch header of an export.
type Summary struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	CreatedAt      time.Time           `json:"created_at"`
	CompletedAt    *time.Time          `json:"completed_at"`
	Status         crawler.BatchStatus `json:"status"`
	TotalURLs      int                 `json:"total_urls"`
	SuccessfulURLs int                 `json:"successful_urls"`
}

// Result is one crawled page with its stored content.
type Result struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	WordCount  int       `json:"word_count"`
	LinkCount  int       `json:"link_count"`
	ImageCount int       `json:"image_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Document is the export payload.
type Document struct {
	BatchJob Summary  `json:"batch_job"`
	Results  []Result `json:"results"`
}

// Exporter reads results from the store and their content from the output writer.
type Exporter struct {
	store  store.BatchStore
	output crawler.OutputWriter
	logger *zap.Logger
}

// New constructs an Exporter.
func New(st store.BatchStore, output crawler.OutputWriter, logger *zap.Logger) (*Exporter, error) {
	if st == nil {
		return nil, errors.New("batch store is required")
	}
	if output == nil {
		return nil, errors.New("output writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: st, output: output, logger: logger}, nil
}

// Export returns the batch summary and every result in item order. A result
// whose output can no longer be read is exported with empty content.
func (e *Exporter) Export(ctx context.Context, id string) (Document, error) {
	batch, err := e.store.GetBatch(ctx, id)
	if err != nil {
		return Document{}, fmt.Errorf("load batch: %w", err)
	}
	results, err := e.store.ListResults(ctx, id)
	if err != nil {
		return Document{}, fmt.Errorf("list results: %w", err)
	}
	if len(results) == 0 {
		return Document{}, fmt.Errorf("export batch %s: %w", id, crawler.ErrNoResults)
	}

	doc := Document{
		BatchJob: Summary{
			ID:             batch.ID,
			Name:           batch.Name,
			Description:    batch.Description,
			CreatedAt:      batch.CreatedAt,
			CompletedAt:    batch.CompletedAt,
			Status:         batch.Status,
			TotalURLs:      batch.Total,
			SuccessfulURLs: batch.Successful,
		},
		Results: make([]Result, 0, len(results)),
	}
	for _, r := range results {
		content, err := e.output.Read(ctx, r.OutputFile)
		if err != nil {
			e.logger.Warn("export: output unreadable",
				zap.String("batch_id", id),
				zap.String("result_id", r.ID),
				zap.String("output_file", r.OutputFile),
				zap.Error(err),
			)
		}
		doc.Results = append(doc.Results, Result{
			URL:        r.URL,
			Title:      r.Title,
			Content:    string(content),
			WordCount:  r.WordCount,
			LinkCount:  r.LinkCount,
			ImageCount: r.ImageCount,
			CreatedAt:  r.CreatedAt,
		})
	}
	return doc, nil
}

// Filename is the attachment name used when serving an export.
func Filename(batchID string) string {
	return fmt.Sprintf("batch_%s_export.json", batchID)
}
