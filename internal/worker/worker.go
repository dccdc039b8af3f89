// Package worker turns one URL into a stored page and its crawl metadata.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/errclass"
	"github.com/JakeFAU/batchcrawl/internal/metrics"
	"github.com/JakeFAU/batchcrawl/internal/telemetry"
)

// Options describes where and how a URL's output is produced.
type Options struct {
	BatchID   string
	ItemID    string
	Format    crawler.OutputFormat
	OutputDir string
	Content   crawler.ContentOptions
}

// Result is the outcome of Process. Exactly one of Metadata or Error is set.
type Result struct {
	Success   bool
	Content   *crawler.Page
	Metadata  *crawler.CrawlResult
	Error     string
	ErrorType errclass.Type
}

// Worker runs the fetch, extract and write pipeline for single URLs.
type Worker struct {
	extractor crawler.Extractor
	writer    crawler.OutputWriter
	hasher    crawler.Hasher
	clock     crawler.Clock
	ids       crawler.IDGenerator
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	extractor crawler.Extractor,
	writer crawler.OutputWriter,
	hasher crawler.Hasher,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		extractor: extractor,
		writer:    writer,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// Process crawls url within timeout and persists the rendered output. It never
// returns an error or panics; every failure is reported in the Result.
func (w *Worker) Process(ctx context.Context, url string, opts Options, timeout time.Duration) (res Result) {
	ctx, span := telemetry.Tracer().Start(ctx, "worker.process")
	span.SetAttributes(
		attribute.String("crawl.url", url),
		attribute.String("crawl.format", string(opts.Format)),
		attribute.String("batch.id", opts.BatchID),
	)
	start := time.Now()
	metrics.IncActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			res = w.failure(fmt.Errorf("crawler panic: %v", r))
		}
		metrics.DecActiveWorkers()
		status := "completed"
		if !res.Success {
			status = "failed"
			span.SetStatus(codes.Error, res.Error)
		}
		metrics.ObserveItem(status, time.Since(start))
		span.End()
	}()

	page, err := w.crawl(ctx, url, opts.Content, timeout)
	if err != nil {
		span.RecordError(err)
		return w.failure(err)
	}

	meta, err := w.persist(ctx, page, opts)
	if err != nil {
		span.RecordError(err)
		return w.failure(err)
	}
	span.SetAttributes(attribute.Int("crawl.word_count", meta.WordCount))

	w.logger.Debug("url processed",
		zap.String("batch_id", opts.BatchID),
		zap.String("item_id", opts.ItemID),
		zap.String("url", url),
		zap.String("output_file", meta.OutputFile),
	)
	return Result{Success: true, Content: &page, Metadata: &meta}
}

// crawl calls the extractor under timeout. The call runs in its own goroutine
// so an extractor that ignores its context still cannot hold the worker.
func (w *Worker) crawl(ctx context.Context, url string, content crawler.ContentOptions, timeout time.Duration) (crawler.Page, error) {
	if strings.TrimSpace(url) == "" {
		return crawler.Page{}, errors.New("invalid url: empty")
	}
	if w.extractor == nil {
		return crawler.Page{}, errors.New("extractor not configured")
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		page crawler.Page
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("crawler panic: %v", r)}
			}
		}()
		page, err := w.extractor.FetchAndExtract(callCtx, url, content)
		done <- outcome{page: page, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return crawler.Page{}, timeoutError(timeout)
		}
		if out.err == nil && out.page.URL == "" {
			out.page.URL = url
		}
		return out.page, out.err
	case <-callCtx.Done():
		if ctx.Err() == nil {
			return crawler.Page{}, timeoutError(timeout)
		}
		return crawler.Page{}, fmt.Errorf("crawl canceled: %w", ctx.Err())
	}
}

func timeoutError(timeout time.Duration) error {
	return fmt.Errorf("crawl timed out after %s: %w", timeout, context.DeadlineExceeded)
}

func (w *Worker) persist(ctx context.Context, page crawler.Page, opts Options) (crawler.CrawlResult, error) {
	if w.writer == nil {
		return crawler.CrawlResult{}, errors.New("save output file: no output writer configured")
	}
	location, err := w.writer.Write(ctx, page, opts.Format, opts.OutputDir)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	hash, err := w.hasher.Hash([]byte(page.RawHTML))
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("hash content: %w", err)
	}
	id, err := w.ids.NewID()
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("result id: %w", err)
	}
	return crawler.CrawlResult{
		ID:            id,
		BatchID:       opts.BatchID,
		ItemID:        opts.ItemID,
		URL:           page.URL,
		Title:         page.Title,
		OutputFile:    location,
		ContentLength: len(page.TextContent),
		WordCount:     len(strings.Fields(page.TextContent)),
		LinkCount:     len(page.Links),
		ImageCount:    len(page.Images),
		ContentHash:   hash,
		CreatedAt:     w.clock.Now(),
	}, nil
}

func (w *Worker) failure(err error) Result {
	info := errclass.Classify(err)
	return Result{
		Success:   false,
		Error:     err.Error(),
		ErrorType: info.Type,
	}
}
