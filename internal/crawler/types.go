package crawler

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

// BatchStatus represents the lifecycle state of a batch job.
type BatchStatus string

// Batch status values persisted in the batch store.
const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusPaused    BatchStatus = "paused"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// Valid reports whether s is a known batch status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusPending, BatchStatusRunning, BatchStatusPaused, BatchStatusCompleted, BatchStatusFailed:
		return true
	default:
		return false
	}
}

// ItemStatus represents the lifecycle state of a single URL within a batch.
type ItemStatus string

// Item status values.
const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusSkipped    ItemStatus = "skipped"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusCompleted, ItemStatusFailed, ItemStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal reports whether the item has left pending/processing.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed || s == ItemStatusSkipped
}

// OutputFormat selects how extracted pages are rendered to disk.
type OutputFormat string

// Supported output formats.
const (
	FormatMarkdown OutputFormat = "markdown"
	FormatHTML     OutputFormat = "html"
	FormatText     OutputFormat = "text"
	FormatJSON     OutputFormat = "json"
)

// Valid reports whether f is a supported output format.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatMarkdown, FormatHTML, FormatText, FormatJSON:
		return true
	default:
		return false
	}
}

// ParseOutputFormat normalizes user input into an OutputFormat.
func ParseOutputFormat(raw string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(raw)))
	if f == "md" {
		f = FormatMarkdown
	}
	if !f.Valid() {
		return "", fmt.Errorf("unknown output format %q: %w", raw, ErrInvalidConfig)
	}
	return f, nil
}

// ContentOptions controls how a page is fetched and what is kept from it.
type ContentOptions struct {
	UseBrowser    bool `json:"use_browser"`
	IncludeImages bool `json:"include_images"`
	IncludeLinks  bool `json:"include_links"`
}

// RateLimitConfig holds the per-batch politeness knobs.
type RateLimitConfig struct {
	UseRandomDelay      bool          `json:"use_random_delay"`
	RandomDelayMin      time.Duration `json:"random_delay_min"`
	RandomDelayMax      time.Duration `json:"random_delay_max"`
	UseAdaptiveDelay    bool          `json:"use_adaptive_delay"`
	AdaptiveDelayFactor float64       `json:"adaptive_delay_factor"`
	UseScheduledBreaks  bool          `json:"use_scheduled_breaks"`
	RequestsBeforeBreak int           `json:"requests_before_break"`
	BreakDuration       time.Duration `json:"break_duration"`
}

// Counters tracks aggregate progress of a batch.
type Counters struct {
	Total      int `json:"total_urls"`
	Processed  int `json:"processed_urls"`
	Successful int `json:"successful_urls"`
	Failed     int `json:"failed_urls"`
}

// ProgressPercentage returns round(processed/total*100), or 0 for an empty batch.
func (c Counters) ProgressPercentage() int {
	if c.Total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(c.Processed) / float64(c.Total) * 100))
	return min(max(pct, 0), 100)
}

// RemainingURLs returns the number of items not yet processed.
func (c Counters) RemainingURLs() int {
	return max(c.Total-c.Processed, 0)
}

// BatchJob is the persisted batch aggregate.
type BatchJob struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	URLs              []string        `json:"urls"`
	Status            BatchStatus     `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	OutputDir         string          `json:"output_dir"`
	Format            OutputFormat    `json:"output_format"`
	ConcurrentWorkers int             `json:"concurrent_workers"`
	TimeoutPerURL     time.Duration   `json:"timeout_per_url"`
	Content           ContentOptions  `json:"content"`
	RateLimit         RateLimitConfig `json:"rate_limit"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	Counters
}

// BatchItem is one URL of a batch.
type BatchItem struct {
	ID           string     `json:"id"`
	BatchID      string     `json:"batch_id"`
	Position     int        `json:"position"`
	URL          string     `json:"url"`
	Status       ItemStatus `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ResultID     string     `json:"result_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorType    string     `json:"error_type,omitempty"`
}

// CrawlResult is the metadata persisted for each successfully crawled item.
type CrawlResult struct {
	ID            string    `json:"id"`
	BatchID       string    `json:"batch_id"`
	ItemID        string    `json:"item_id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	OutputFile    string    `json:"output_file"`
	ContentLength int       `json:"content_length"`
	WordCount     int       `json:"word_count"`
	LinkCount     int       `json:"link_count"`
	ImageCount    int       `json:"image_count"`
	ContentHash   string    `json:"content_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// Page is the output of a fetch-and-extract call.
type Page struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	TextContent string   `json:"text_content"`
	Links       []string `json:"links,omitempty"`
	Images      []string `json:"images,omitempty"`
	RawHTML     string   `json:"html,omitempty"`
	StatusCode  int      `json:"status_code"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	UsedBrowser bool
}
