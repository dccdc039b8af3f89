// Package client talks to a running batchcrawl server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/batchcrawl/internal/batchfile"
	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/errclass"
)

const defaultTimeout = 30 * time.Second

// Batch is a batch as the server reports it.
type Batch struct {
	crawler.BatchJob
	Progress  int                 `json:"progress_percentage"`
	Remaining int                 `json:"remaining_urls"`
	Active    bool                `json:"active"`
	Items     []crawler.BatchItem `json:"items,omitempty"`
}

// ItemError is the classified failure of one item.
type ItemError struct {
	ItemID  string        `json:"item_id"`
	BatchID string        `json:"batch_id"`
	URL     string        `json:"url"`
	Status  string        `json:"status"`
	Error   errclass.Info `json:"error"`
	Detail  string        `json:"detail"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAPIKey sends key as X-API-Key on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// Client is a thin wrapper over the /v1 routes.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateBatch submits def; the server merges it over its defaults.
func (c *Client) CreateBatch(ctx context.Context, def batchfile.Definition) (Batch, error) {
	var b Batch
	err := c.do(ctx, http.MethodPost, "/v1/batches", nil, def, &b)
	return b, err
}

// ListBatches returns batches newest first. An empty status lists all.
func (c *Client) ListBatches(ctx context.Context, status crawler.BatchStatus, limit int) ([]Batch, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Batches []Batch `json:"batches"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/batches", q, nil, &out)
	return out.Batches, err
}

// GetBatch returns the batch with its items.
func (c *Client) GetBatch(ctx context.Context, id string) (Batch, error) {
	var b Batch
	err := c.do(ctx, http.MethodGet, batchPath(id), nil, nil, &b)
	return b, err
}

// StartBatch starts or resumes a batch.
func (c *Client) StartBatch(ctx context.Context, id string) (Batch, error) {
	var b Batch
	err := c.do(ctx, http.MethodPost, batchPath(id, "start"), nil, nil, &b)
	return b, err
}

// PauseBatch asks a running batch to stop after its in-flight items.
func (c *Client) PauseBatch(ctx context.Context, id string) (Batch, error) {
	var b Batch
	err := c.do(ctx, http.MethodPost, batchPath(id, "pause"), nil, nil, &b)
	return b, err
}

// RetryFailed resets every failed item of a batch and returns how many.
func (c *Client) RetryFailed(ctx context.Context, id string) (int, error) {
	var out struct {
		Reset int `json:"reset"`
	}
	err := c.do(ctx, http.MethodPost, batchPath(id, "retry-failed"), nil, nil, &out)
	return out.Reset, err
}

// DeleteBatch removes a batch and its items.
func (c *Client) DeleteBatch(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, batchPath(id), nil, nil, nil)
}

// RetryItem resets one failed item.
func (c *Client) RetryItem(ctx context.Context, itemID string) (crawler.BatchItem, error) {
	var item crawler.BatchItem
	err := c.do(ctx, http.MethodPost, itemPath(itemID, "retry"), nil, nil, &item)
	return item, err
}

// ItemError returns the classified error of a failed item.
func (c *Client) ItemError(ctx context.Context, itemID string) (ItemError, error) {
	var out ItemError
	err := c.do(ctx, http.MethodGet, itemPath(itemID, "error"), nil, nil, &out)
	return out, err
}

// Export copies the export document of a batch to w.
func (c *Client) Export(ctx context.Context, id string, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, batchPath(id, "export"), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	return nil
}

// WaitBatch polls until the batch leaves running or ctx ends. onPoll, when
// set, sees every intermediate read.
func (c *Client) WaitBatch(ctx context.Context, id string, interval time.Duration, onPoll func(Batch)) (Batch, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		b, err := c.GetBatch(ctx, id)
		if err != nil {
			return Batch{}, err
		}
		if b.Status != crawler.BatchStatusRunning && !b.Active {
			return b, nil
		}
		if onPoll != nil {
			onPoll(b)
		}
		select {
		case <-ctx.Done():
			return b, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	resp, err := c.send(ctx, method, path, q, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// send performs the request and turns non-2xx answers into an *APIError.
func (c *Client) send(ctx context.Context, method, path string, q url.Values, in any) (*http.Response, error) {
	u := *c.base
	u.Path += path
	u.RawQuery = q.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Error string `json:"error"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else if msg := strings.TrimSpace(string(data)); msg != "" {
			apiErr.Message = msg
		}
	}
	return nil, apiErr
}

func batchPath(id string, action ...string) string {
	return "/v1/batches/" + strings.Join(append([]string{id}, action...), "/")
}

func itemPath(id, action string) string {
	return "/v1/items/" + id + "/" + action
}
