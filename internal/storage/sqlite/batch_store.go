// Package sqlite implements store.BatchStore on a single-file SQLite database
// (modernc.org/sqlite, no cgo). It is the default store for CLI use.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/store"
)

// AppName names the per-user data directory.
const AppName = "batchcrawl"

const timeLayout = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    urls TEXT NOT NULL,
    status TEXT NOT NULL,
    total_urls INTEGER NOT NULL DEFAULT 0,
    processed_urls INTEGER NOT NULL DEFAULT 0,
    successful_urls INTEGER NOT NULL DEFAULT 0,
    failed_urls INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT,
    output_dir TEXT NOT NULL DEFAULT '',
    settings TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_batch_jobs_status ON batch_jobs(status);

CREATE TABLE IF NOT EXISTS batch_items (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    url TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT,
    result_id TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    error_type TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_batch_items_dispatch ON batch_items(batch_id, status, position);

CREATE TABLE IF NOT EXISTS crawl_results (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    url TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    output_file TEXT NOT NULL DEFAULT '',
    content_length INTEGER NOT NULL DEFAULT 0,
    word_count INTEGER NOT NULL DEFAULT 0,
    link_count INTEGER NOT NULL DEFAULT 0,
    image_count INTEGER NOT NULL DEFAULT 0,
    content_hash TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawl_results_batch ON crawl_results(batch_id);
`

const (
	batchColumns = `id, name, description, urls, status, total_urls, processed_urls, successful_urls, ` +
		`failed_urls, created_at, started_at, completed_at, output_dir, settings, error_message`
	itemColumns   = `id, batch_id, position, url, status, started_at, completed_at, result_id, error_message, error_type`
	resultColumns = `id, batch_id, item_id, url, title, output_file, content_length, word_count, ` +
		`link_count, image_count, content_hash, created_at`
)

// settings is the JSON document holding a batch's crawl configuration.
type settings struct {
	Format            crawler.OutputFormat    `json:"format"`
	ConcurrentWorkers int                     `json:"concurrent_workers"`
	TimeoutPerURL     time.Duration           `json:"timeout_per_url"`
	Content           crawler.ContentOptions  `json:"content"`
	RateLimit         crawler.RateLimitConfig `json:"rate_limit"`
}

// DefaultPath returns the database location under the XDG data directory.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, AppName, "batches.db")
}

// BatchStore persists batches in SQLite.
type BatchStore struct {
	db *sql.DB
}

var _ store.BatchStore = (*BatchStore)(nil)

// New opens (creating if needed) the database at path and applies the schema.
func New(path string) (*BatchStore, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers; every mutating method is a single transaction.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &BatchStore{db: db}, nil
}

// Close closes the database.
func (s *BatchStore) Close() error {
	return s.db.Close()
}

// CreateBatch inserts the batch and its items in one transaction.
func (s *BatchStore) CreateBatch(ctx context.Context, batch crawler.BatchJob, items []crawler.BatchItem) error {
	urls, err := json.Marshal(batch.URLs)
	if err != nil {
		return fmt.Errorf("encode urls: %w", err)
	}
	cfg, err := json.Marshal(settingsOf(batch))
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO batch_jobs (`+batchColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			batch.ID, batch.Name, batch.Description, string(urls), batch.Status,
			batch.Total, batch.Processed, batch.Successful, batch.Failed,
			formatTime(batch.CreatedAt), nullTime(batch.StartedAt), nullTime(batch.CompletedAt),
			batch.OutputDir, string(cfg), batch.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO batch_items (`+itemColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare item insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, item := range items {
			if _, err := stmt.ExecContext(ctx,
				item.ID, batch.ID, item.Position, item.URL, item.Status,
				nullTime(item.StartedAt), nullTime(item.CompletedAt),
				item.ResultID, item.ErrorMessage, item.ErrorType,
			); err != nil {
				return fmt.Errorf("insert item %d: %w", item.Position, err)
			}
		}
		return nil
	})
}

// GetBatch fetches a batch by ID.
func (s *BatchStore) GetBatch(ctx context.Context, id string) (crawler.BatchJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batch_jobs WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.BatchJob{}, fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	return batch, err
}

// ListBatches returns batches newest first.
func (s *BatchStore) ListBatches(ctx context.Context, filter store.BatchFilter) ([]crawler.BatchJob, error) {
	query := `SELECT ` + batchColumns + ` FROM batch_jobs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	sets := []string{}
	var args []any
	if update.Status != "" {
		sets = append(sets, "status = ?")
		args = append(args, update.Status)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = COALESCE(started_at, ?)")
		args = append(args, formatTime(*update.StartedAt))
	}
	switch {
	case update.CompletedAt != nil:
		sets = append(sets, "completed_at = ?")
		args = append(args, formatTime(*update.CompletedAt))
	case update.ClearCompletedAt:
		sets = append(sets, "completed_at = NULL")
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if len(sets) == 0 {
		return nil
	}
	query := `UPDATE batch_jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if len(update.From) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(update.From)-1) + `)`
		for _, status := range update.From {
			args = append(args, status)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if len(update.From) == 0 {
		return fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	return s.missedUpdate(ctx, id)
}

// missedUpdate explains why a conditional update matched no row.
func (s *BatchStore) missedUpdate(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM batch_jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load batch status: %w", err)
	}
	return fmt.Errorf("batch %s is %s: %w", id, status, crawler.ErrInvalidTransition)
}

// DeleteBatch removes the batch with its items and results.
func (s *BatchStore) DeleteBatch(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_results WHERE batch_id = ?`, id); err != nil {
			return fmt.Errorf("delete results: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM batch_items WHERE batch_id = ?`, id); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM batch_jobs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}
		return requireRow(res, "batch", id)
	})
}

// GetItem fetches an item by ID.
func (s *BatchStore) GetItem(ctx context.Context, id string) (crawler.BatchItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM batch_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.BatchItem{}, fmt.Errorf("item %s: %w", id, store.ErrNotFound)
	}
	return item, err
}

// ListItems returns a batch's items in position order.
func (s *BatchStore) ListItems(ctx context.Context, batchID string, status crawler.ItemStatus) ([]crawler.BatchItem, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM batch_jobs WHERE id = ?`, batchID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check batch: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}

	query := `SELECT ` + itemColumns + ` FROM batch_items WHERE batch_id = ?`
	args := []any{batchID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY position`, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (s *BatchStore) ClaimNextItem(ctx context.Context, batchID string, at time.Time) (crawler.BatchItem, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE batch_items SET status = ?, started_at = ?, completed_at = NULL
WHERE id = (
    SELECT id FROM batch_items WHERE batch_id = ? AND status = ? ORDER BY position LIMIT 1
)
RETURNING `+itemColumns,
		crawler.ItemStatusProcessing, formatTime(at), batchID, crawler.ItemStatusPending,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.BatchItem{}, fmt.Errorf("pending item for batch %s: %w", batchID, store.ErrNotFound)
	}
	return item, err
}

// CompleteItem records an item's outcome, its result, and bumps the batch counters.
func (s *BatchStore) CompleteItem(
	ctx context.Context,
	batchID string,
	completion store.ItemCompletion,
) (crawler.Counters, error) {
	var counters crawler.Counters
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		success := completion.Status == crawler.ItemStatusCompleted
		resultID := ""
		if success && completion.Result != nil {
			r := completion.Result
			resultID = r.ID
			if _, err := tx.ExecContext(ctx, `INSERT INTO crawl_results (`+resultColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, batchID, completion.ItemID, r.URL, r.Title, r.OutputFile, r.ContentLength,
				r.WordCount, r.LinkCount, r.ImageCount, r.ContentHash, formatTime(r.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert result: %w", err)
			}
		}
		errMsg, errType := completion.ErrorMessage, completion.ErrorType
		if success {
			errMsg, errType = "", ""
		}
		res, err := tx.ExecContext(ctx, `UPDATE batch_items
SET status = ?, completed_at = ?, result_id = ?, error_message = ?, error_type = ?
WHERE id = ? AND batch_id = ? AND status = ?`,
			completion.Status, formatTime(completion.CompletedAt), resultID, errMsg, errType,
			completion.ItemID, batchID, crawler.ItemStatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if err := requireRow(res, "processing item", completion.ItemID); err != nil {
			return err
		}
		ok, bad := 0, 1
		if success {
			ok, bad = 1, 0
		}
		err = tx.QueryRowContext(ctx, `UPDATE batch_jobs
SET processed_urls = processed_urls + 1, successful_urls = successful_urls + ?, failed_urls = failed_urls + ?
WHERE id = ?
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
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE batch_items
SET status = ?, started_at = NULL, completed_at = NULL, result_id = '', error_message = '', error_type = ''
WHERE batch_id = ? AND status = ?`, crawler.ItemStatusPending, batchID, crawler.ItemStatusFailed)
		if err != nil {
			return fmt.Errorf("reset items: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		n = int(affected)
		res, err = tx.ExecContext(ctx, `UPDATE batch_jobs
SET failed_urls = failed_urls - ?, processed_urls = processed_urls - ? WHERE id = ?`, n, n, batchID)
		if err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
		return requireRow(res, "batch", batchID)
	})
	return n, err
}

// ResetItem moves one failed item back to pending.
func (s *BatchStore) ResetItem(ctx context.Context, itemID string) (crawler.BatchItem, error) {
	var item crawler.BatchItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM batch_items WHERE id = ?`, itemID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if current.Status != crawler.ItemStatusFailed {
			return fmt.Errorf("item %s is %s: %w", itemID, current.Status, crawler.ErrItemNotRetryable)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE batch_items
SET status = ?, started_at = NULL, completed_at = NULL, result_id = '', error_message = '', error_type = ''
WHERE id = ?`, crawler.ItemStatusPending, itemID); err != nil {
			return fmt.Errorf("reset item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE batch_jobs
SET failed_urls = failed_urls - 1, processed_urls = processed_urls - 1 WHERE id = ?`, current.BatchID); err != nil {
			return fmt.Errorf("update counters: %w", err)
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
	res, err := s.db.ExecContext(ctx, `UPDATE batch_items SET status = ?, started_at = NULL
WHERE batch_id = ? AND status = ?`, crawler.ItemStatusPending, batchID, crawler.ItemStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("requeue items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// GetResult fetches a result by ID.
func (s *BatchStore) GetResult(ctx context.Context, id string) (crawler.CrawlResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM crawl_results WHERE id = ?`, id)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CrawlResult{}, fmt.Errorf("result %s: %w", id, store.ErrNotFound)
	}
	return result, err
}

// ListResults returns a batch's results in item order.
func (s *BatchStore) ListResults(ctx context.Context, batchID string) ([]crawler.CrawlResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.id, r.batch_id, r.item_id, r.url, r.title, r.output_file,
 r.content_length, r.word_count, r.link_count, r.image_count, r.content_hash, r.created_at
FROM crawl_results r JOIN batch_items i ON i.result_id = r.id
WHERE r.batch_id = ? ORDER BY i.position`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func (s *BatchStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (crawler.BatchJob, error) {
	var (
		batch              crawler.BatchJob
		urls, cfg, created string
		started, completed sql.NullString
	)
	err := row.Scan(
		&batch.ID, &batch.Name, &batch.Description, &urls, &batch.Status,
		&batch.Total, &batch.Processed, &batch.Successful, &batch.Failed,
		&created, &started, &completed, &batch.OutputDir, &cfg, &batch.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.BatchJob{}, err
	}
	if err != nil {
		return crawler.BatchJob{}, fmt.Errorf("scan batch: %w", err)
	}
	if err := json.Unmarshal([]byte(urls), &batch.URLs); err != nil {
		return crawler.BatchJob{}, fmt.Errorf("decode urls: %w", err)
	}
	var st settings
	if err := json.Unmarshal([]byte(cfg), &st); err != nil {
		return crawler.BatchJob{}, fmt.Errorf("decode settings: %w", err)
	}
	applySettings(&batch, st)
	batch.CreatedAt = parseTime(created)
	batch.StartedAt = parseNullTime(started)
	batch.CompletedAt = parseNullTime(completed)
	return batch, nil
}

func scanItem(row scanner) (crawler.BatchItem, error) {
	var (
		item               crawler.BatchItem
		started, completed sql.NullString
	)
	err := row.Scan(
		&item.ID, &item.BatchID, &item.Position, &item.URL, &item.Status,
		&started, &completed, &item.ResultID, &item.ErrorMessage, &item.ErrorType,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.BatchItem{}, err
	}
	if err != nil {
		return crawler.BatchItem{}, fmt.Errorf("scan item: %w", err)
	}
	item.StartedAt = parseNullTime(started)
	item.CompletedAt = parseNullTime(completed)
	return item, nil
}

func scanResult(row scanner) (crawler.CrawlResult, error) {
	var (
		r       crawler.CrawlResult
		created string
	)
	err := row.Scan(
		&r.ID, &r.BatchID, &r.ItemID, &r.URL, &r.Title, &r.OutputFile, &r.ContentLength,
		&r.WordCount, &r.LinkCount, &r.ImageCount, &r.ContentHash, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CrawlResult{}, err
	}
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("scan result: %w", err)
	}
	r.CreatedAt = parseTime(created)
	return r, nil
}

func settingsOf(batch crawler.BatchJob) settings {
	return settings{
		Format:            batch.Format,
		ConcurrentWorkers: batch.ConcurrentWorkers,
		TimeoutPerURL:     batch.TimeoutPerURL,
		Content:           batch.Content,
		RateLimit:         batch.RateLimit,
	}
}

func applySettings(batch *crawler.BatchJob, st settings) {
	batch.Format = st.Format
	batch.ConcurrentWorkers = st.ConcurrentWorkers
	batch.TimeoutPerURL = st.TimeoutPerURL
	batch.Content = st.Content
	batch.RateLimit = st.RateLimit
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
