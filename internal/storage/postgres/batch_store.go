// Package postgres provides a Postgres-backed store.BatchStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/store"
)

// Schema creates the tables used by BatchStore. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    urls JSONB NOT NULL,
    status TEXT NOT NULL,
    total_urls INTEGER NOT NULL DEFAULT 0,
    processed_urls INTEGER NOT NULL DEFAULT 0,
    successful_urls INTEGER NOT NULL DEFAULT 0,
    failed_urls INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    output_dir TEXT NOT NULL DEFAULT '',
    settings JSONB NOT NULL,
    error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_batch_jobs_status ON batch_jobs (status);

CREATE TABLE IF NOT EXISTS batch_items (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL REFERENCES batch_jobs (id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    url TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    result_id TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    error_type TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_batch_items_dispatch ON batch_items (batch_id, status, position);

CREATE TABLE IF NOT EXISTS crawl_results (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL REFERENCES batch_jobs (id) ON DELETE CASCADE,
    item_id TEXT NOT NULL,
    url TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    output_file TEXT NOT NULL DEFAULT '',
    content_length INTEGER NOT NULL DEFAULT 0,
    word_count INTEGER NOT NULL DEFAULT 0,
    link_count INTEGER NOT NULL DEFAULT 0,
    image_count INTEGER NOT NULL DEFAULT 0,
    content_hash TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawl_results_batch ON crawl_results (batch_id);
`

const (
	batchColumns = `id, name, description, urls, status, total_urls, processed_urls, successful_urls, ` +
		`failed_urls, created_at, started_at, completed_at, output_dir, settings, error_message`
	itemColumns   = `id, batch_id, position, url, status, started_at, completed_at, result_id, error_message, error_type`
	resultColumns = `id, batch_id, item_id, url, title, output_file, content_length, word_count, ` +
		`link_count, image_count, content_hash, created_at`
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BatchStore persists batches in Postgres.
type BatchStore struct {
	pool pool
}

var _ store.BatchStore = (*BatchStore)(nil)

type settings struct {
	Format            crawler.OutputFormat    `json:"format"`
	ConcurrentWorkers int                     `json:"concurrent_workers"`
	TimeoutPerURL     time.Duration           `json:"timeout_per_url"`
	Content           crawler.ContentOptions  `json:"content"`
	RateLimit         crawler.RateLimitConfig `json:"rate_limit"`
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*BatchStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := p.Exec(ctx, Schema); err != nil {
		p.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &BatchStore{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*BatchStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &BatchStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *BatchStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateBatch inserts the batch and its items in one transaction.
func (s *BatchStore) CreateBatch(ctx context.Context, batch crawler.BatchJob, items []crawler.BatchItem) error {
	urls, err := json.Marshal(batch.URLs)
	if err != nil {
		return fmt.Errorf("encode urls: %w", err)
	}
	cfg, err := json.Marshal(settings{
		Format:            batch.Format,
		ConcurrentWorkers: batch.ConcurrentWorkers,
		TimeoutPerURL:     batch.TimeoutPerURL,
		Content:           batch.Content,
		RateLimit:         batch.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO batch_jobs (`+batchColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			batch.ID, batch.Name, batch.Description, urls, string(batch.Status),
			batch.Total, batch.Processed, batch.Successful, batch.Failed,
			batch.CreatedAt, batch.StartedAt, batch.CompletedAt, batch.OutputDir, cfg, batch.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		for _, item := range items {
			_, err := tx.Exec(ctx, `INSERT INTO batch_items (`+itemColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				item.ID, batch.ID, item.Position, item.URL, string(item.Status),
				item.StartedAt, item.CompletedAt, item.ResultID, item.ErrorMessage, item.ErrorType,
			)
			if err != nil {
				return fmt.Errorf("insert item %d: %w", item.Position, err)
			}
		}
		return nil
	})
}

// GetBatch fetches a batch by ID.
func (s *BatchStore) GetBatch(ctx context.Context, id string) (crawler.BatchJob, error) {
	batch, err := scanBatch(s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batch_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.BatchJob{}, fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	return batch, err
}

// ListBatches returns batches newest first.
func (s *BatchStore) ListBatches(ctx context.Context, filter store.BatchFilter) ([]crawler.BatchJob, error) {
	query := `SELECT ` + batchColumns + ` FROM batch_jobs`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []crawler.BatchJob
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return out, nil
}

// UpdateBatch applies a status change.
func (s *BatchStore) UpdateBatch(ctx context.Context, id string, update store.StatusUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if update.Status != "" {
		add("status = $%d", string(update.Status))
	}
	if update.StartedAt != nil {
		add("started_at = COALESCE(started_at, $%d)", *update.StartedAt)
	}
	switch {
	case update.CompletedAt != nil:
		add("completed_at = $%d", *update.CompletedAt)
	case update.ClearCompletedAt:
		sets = append(sets, "completed_at = NULL")
	}
	if update.ErrorMessage != nil {
		add("error_message = $%d", *update.ErrorMessage)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE batch_jobs SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	if len(update.From) > 0 {
		from := make([]string, len(update.From))
		for i, status := range update.From {
			from[i] = string(status)
		}
		args = append(args, from)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if len(update.From) == 0 {
		return fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM batch_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load batch status: %w", err)
	}
	return fmt.Errorf("batch %s is %s: %w", id, status, crawler.ErrInvalidTransition)
}

// DeleteBatch removes the batch; items and results cascade.
func (s *BatchStore) DeleteBatch(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM batch_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// GetItem fetches an item by ID.
func (s *BatchStore) GetItem(ctx context.Context, id string) (crawler.BatchItem, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM batch_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.BatchItem{}, fmt.Errorf("item %s: %w", id, store.ErrNotFound)
	}
	return item, err
}

// ListItems returns a batch's items in position order.
func (s *BatchStore) ListItems(ctx context.Context, batchID string, status crawler.ItemStatus) ([]crawler.BatchItem, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batch_jobs WHERE id = $1)`, batchID).
		Scan(&exists); err != nil {
		return nil, fmt.Errorf("check batch: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	query := `SELECT ` + itemColumns + ` FROM batch_items WHERE batch_id = $1`
	args := []any{batchID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY position`, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []crawler.BatchItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

// ClaimNextItem moves the lowest-position pending item to processing.
// SKIP LOCKED keeps concurrent claimers from picking the same row.
func (s *BatchStore) ClaimNextItem(ctx context.Context, batchID string, at time.Time) (crawler.BatchItem, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `UPDATE batch_items SET status = $1, started_at = $2, completed_at = NULL
WHERE id = (
    SELECT id FROM batch_items WHERE batch_id = $3 AND status = $4
    ORDER BY position LIMIT 1 FOR UPDATE SKIP LOCKED
)
RETURNING `+itemColumns,
		string(crawler.ItemStatusProcessing), at, batchID, string(crawler.ItemStatusPending),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.BatchItem{}, fmt.Errorf("pending item for batch %s: %w", batchID, store.ErrNotFound)
	}
	return item, err
}

// CompleteItem records an item's outcome and bumps the batch counters in one transaction.
func (s *BatchStore) CompleteItem(
	ctx context.Context,
	batchID string,
	completion store.ItemCompletion,
) (crawler.Counters, error) {
	var counters crawler.Counters
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		success := completion.Status == crawler.ItemStatusCompleted
		resultID, errMsg, errType := "", completion.ErrorMessage, completion.ErrorType
		if success {
			errMsg, errType = "", ""
			if r := completion.Result; r != nil {
				resultID = r.ID
				if err := insertResult(ctx, tx, batchID, completion.ItemID, *r); err != nil {
					return err
				}
			}
		}
		tag, err := tx.Exec(ctx, `UPDATE batch_items
SET status = $1, completed_at = $2, result_id = $3, error_message = $4, error_type = $5
WHERE id = $6 AND batch_id = $7 AND status = $8`,
			string(completion.Status), completion.CompletedAt, resultID, errMsg, errType,
			completion.ItemID, batchID, string(crawler.ItemStatusProcessing),
		)
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("processing item %s: %w", completion.ItemID, store.ErrNotFound)
		}
		ok, bad := 0, 1
		if success {
			ok, bad = 1, 0
		}
		err = tx.QueryRow(ctx, `UPDATE batch_jobs
SET processed_urls = processed_urls + 1, successful_urls = successful_urls + $1, failed_urls = failed_urls + $2
WHERE id = $3
RETURNING total_urls, processed_urls, successful_urls, failed_urls`, ok, bad, batchID,
		).Scan(&counters.Total, &counters.Processed, &counters.Successful, &counters.Failed)
		if err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
		return nil
	})
	return counters, err
}

// ResetFailedItems moves failed items back to pending and decrements the counters.
func (s *BatchStore) ResetFailedItems(ctx context.Context, batchID string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE batch_items
SET status = $1, started_at = NULL, completed_at = NULL, result_id = '', error_message = '', error_type = ''
WHERE batch_id = $2 AND status = $3`,
			string(crawler.ItemStatusPending), batchID, string(crawler.ItemStatusFailed))
		if err != nil {
			return fmt.Errorf("reset items: %w", err)
		}
		n = int(tag.RowsAffected())
		return decrementCounters(ctx, tx, batchID, n)
	})
	return n, err
}

// ResetItem moves one failed item back to pending.
func (s *BatchStore) ResetItem(ctx context.Context, itemID string) (crawler.BatchItem, error) {
	var item crawler.BatchItem
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanItem(tx.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM batch_items WHERE id = $1 FOR UPDATE`, itemID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if current.Status != crawler.ItemStatusFailed {
			return fmt.Errorf("item %s is %s: %w", itemID, current.Status, crawler.ErrItemNotRetryable)
		}
		if _, err := tx.Exec(ctx, `UPDATE batch_items
SET status = $1, started_at = NULL, completed_at = NULL, result_id = '', error_message = '', error_type = ''
WHERE id = $2`, string(crawler.ItemStatusPending), itemID); err != nil {
			return fmt.Errorf("reset item: %w", err)
		}
		if err := decrementCounters(ctx, tx, current.BatchID, 1); err != nil {
			return err
		}
		item = current
		item.Status = crawler.ItemStatusPending
		item.StartedAt, item.CompletedAt = nil, nil
		item.ErrorMessage, item.ErrorType, item.ResultID = "", "", ""
		return nil
	})
	return item, err
}

// RequeueProcessing moves items left in processing back to pending.
func (s *BatchStore) RequeueProcessing(ctx context.Context, batchID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE batch_items SET status = $1, started_at = NULL
WHERE batch_id = $2 AND status = $3`,
		string(crawler.ItemStatusPending), batchID, string(crawler.ItemStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("requeue items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetResult fetches a result by ID.
func (s *BatchStore) GetResult(ctx context.Context, id string) (crawler.CrawlResult, error) {
	result, err := scanResult(s.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM crawl_results WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlResult{}, fmt.Errorf("result %s: %w", id, store.ErrNotFound)
	}
	return result, err
}

// ListResults returns a batch's results in item order.
func (s *BatchStore) ListResults(ctx context.Context, batchID string) ([]crawler.CrawlResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT r.id, r.batch_id, r.item_id, r.url, r.title, r.output_file,
 r.content_length, r.word_count, r.link_count, r.image_count, r.content_hash, r.created_at
FROM crawl_results r JOIN batch_items i ON i.result_id = r.id
WHERE r.batch_id = $1 ORDER BY i.position`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func (s *BatchStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertResult(ctx context.Context, q querier, batchID, itemID string, r crawler.CrawlResult) error {
	_, err := q.Exec(ctx, `INSERT INTO crawl_results (`+resultColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, batchID, itemID, r.URL, r.Title, r.OutputFile, r.ContentLength,
		r.WordCount, r.LinkCount, r.ImageCount, r.ContentHash, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func decrementCounters(ctx context.Context, q querier, batchID string, n int) error {
	tag, err := q.Exec(ctx, `UPDATE batch_jobs
SET failed_urls = failed_urls - $1, processed_urls = processed_urls - $1 WHERE id = $2`, n, batchID)
	if err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	return nil
}

func scanBatch(row pgx.Row) (crawler.BatchJob, error) {
	var (
		batch     crawler.BatchJob
		status    string
		urls, cfg []byte
	)
	err := row.Scan(
		&batch.ID, &batch.Name, &batch.Description, &urls, &status,
		&batch.Total, &batch.Processed, &batch.Successful, &batch.Failed,
		&batch.CreatedAt, &batch.StartedAt, &batch.CompletedAt, &batch.OutputDir, &cfg, &batch.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.BatchJob{}, err
	}
	if err != nil {
		return crawler.BatchJob{}, fmt.Errorf("scan batch: %w", err)
	}
	batch.Status = crawler.BatchStatus(status)
	if err := json.Unmarshal(urls, &batch.URLs); err != nil {
		return crawler.BatchJob{}, fmt.Errorf("decode urls: %w", err)
	}
	var st settings
	if err := json.Unmarshal(cfg, &st); err != nil {
		return crawler.BatchJob{}, fmt.Errorf("decode settings: %w", err)
	}
	batch.Format = st.Format
	batch.ConcurrentWorkers = st.ConcurrentWorkers
	batch.TimeoutPerURL = st.TimeoutPerURL
	batch.Content = st.Content
	batch.RateLimit = st.RateLimit
	return batch, nil
}

func scanItem(row pgx.Row) (crawler.BatchItem, error) {
	var (
		item   crawler.BatchItem
		status string
	)
	err := row.Scan(
		&item.ID, &item.BatchID, &item.Position, &item.URL, &status,
		&item.StartedAt, &item.CompletedAt, &item.ResultID, &item.ErrorMessage, &item.ErrorType,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.BatchItem{}, err
	}
	if err != nil {
		return crawler.BatchItem{}, fmt.Errorf("scan item: %w", err)
	}
	item.Status = crawler.ItemStatus(status)
	return item, nil
}

func scanResult(row pgx.Row) (crawler.CrawlResult, error) {
	var r crawler.CrawlResult
	err := row.Scan(
		&r.ID, &r.BatchID, &r.ItemID, &r.URL, &r.Title, &r.OutputFile, &r.ContentLength,
		&r.WordCount, &r.LinkCount, &r.ImageCount, &r.ContentHash, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlResult{}, err
	}
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("scan result: %w", err)
	}
	return r, nil
}
