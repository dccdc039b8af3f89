package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batchcrawl/internal/clock/system"
	"github.com/JakeFAU/batchcrawl/internal/config"
	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/errclass"
	"github.com/JakeFAU/batchcrawl/internal/export"
	"github.com/JakeFAU/batchcrawl/internal/id/uuid"
	"github.com/JakeFAU/batchcrawl/internal/output"
	"github.com/JakeFAU/batchcrawl/internal/scheduler"
	"github.com/JakeFAU/batchcrawl/internal/storage/memory"
	"github.com/JakeFAU/batchcrawl/internal/store"
	"github.com/JakeFAU/batchcrawl/internal/worker"
)

type fakeProcessor struct{}

// Process fails any URL containing "fail" with a timeout and succeeds otherwise.
func (fakeProcessor) Process(_ context.Context, url string, opts worker.Options, _ time.Duration) worker.Result {
	if strings.Contains(url, "fail") {
		return worker.Result{
			Error:     "crawl timed out after 5s: context deadline exceeded",
			ErrorType: errclass.ConnectionTimeout,
		}
	}
	return worker.Result{
		Success: true,
		Content: &crawler.Page{URL: url, Title: "ok"},
		Metadata: &crawler.CrawlResult{
			ID:      "res-" + opts.ItemID,
			BatchID: opts.BatchID,
			ItemID:  opts.ItemID,
			URL:     url,
			Title:   "ok",
		},
	}
}

type testServer struct {
	handler http.Handler
	sched   *scheduler.Scheduler
}

func testConfig() config.Config {
	return config.Config{
		Batch: config.BatchConfig{
			ConcurrentWorkers:   2,
			TimeoutSeconds:      5,
			Format:              "markdown",
			IncludeLinks:        true,
			AdaptiveDelayFactor: 1,
			RequestsBeforeBreak: 50,
		},
	}
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	st := memory.NewBatchStore()
	clock := system.New()
	sched, err := scheduler.New(st, fakeProcessor{}, clock, uuid.New())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Close(ctx)
	})
	writer, err := output.New(memory.NewBlobStore(), clock)
	require.NoError(t, err)
	exp, err := export.New(st, writer, nil)
	require.NoError(t, err)
	return &testServer{
		handler: NewServer(sched, st, exp, cfg, nil).Handler(),
		sched:   sched,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

type batchResponse struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	Format     string              `json:"output_format"`
	Total      int                 `json:"total_urls"`
	Processed  int                 `json:"processed_urls"`
	Successful int                 `json:"successful_urls"`
	Failed     int                 `json:"failed_urls"`
	Progress   int                 `json:"progress_percentage"`
	Remaining  int                 `json:"remaining_urls"`
	Items      []crawler.BatchItem `json:"items"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) wait(t *testing.T, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.sched.Wait(ctx, id))
}

func TestBatchLifecycle(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())

	rec := ts.do(t, http.MethodPost, "/v1/batches",
		`{"name":"news","urls":["https://example.com/a"],"urls_text":"https://example.com/fail\n","output_format":"json"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[batchResponse](t, rec)
	require.Equal(t, "pending", created.Status)
	require.Equal(t, "json", created.Format)
	require.Equal(t, 2, created.Total)
	require.Equal(t, 2, created.Remaining)

	rec = ts.do(t, http.MethodPost, "/v1/batches/"+created.ID+"/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	ts.wait(t, created.ID)

	rec = ts.do(t, http.MethodGet, "/v1/batches/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[batchResponse](t, rec)
	require.Equal(t, "completed", done.Status)
	require.Equal(t, 2, done.Processed)
	require.Equal(t, 1, done.Successful)
	require.Equal(t, 1, done.Failed)
	require.Equal(t, 100, done.Progress)
	require.Len(t, done.Items, 2)
	failed := done.Items[1]
	require.Equal(t, crawler.ItemStatusFailed, failed.Status)

	rec = ts.do(t, http.MethodGet, "/v1/items/"+failed.ID+"/error", "")
	require.Equal(t, http.StatusOK, rec.Code)
	itemErr := decode[itemErrorResponse](t, rec)
	require.Equal(t, errclass.ConnectionTimeout, itemErr.Error.Type)
	require.Equal(t, "Connection Error", itemErr.Error.Category)
	require.Contains(t, itemErr.Detail, "timed out")

	rec = ts.do(t, http.MethodGet, "/v1/items/"+done.Items[0].ID+"/error", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/batches/"+created.ID+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), export.Filename(created.ID))
	doc := decode[export.Document](t, rec)
	require.Equal(t, 1, doc.BatchJob.SuccessfulURLs)
	require.Len(t, doc.Results, 1)

	rec = ts.do(t, http.MethodPost, "/v1/items/"+failed.ID+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, crawler.ItemStatusPending, decode[crawler.BatchItem](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/v1/items/"+failed.ID+"/retry", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/batches/"+created.ID+"/retry-failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"batch_id":"`+created.ID+`","reset":0}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/batches/"+created.ID, "")
	require.Equal(t, "pending", decode[batchResponse](t, rec).Status)

	rec = ts.do(t, http.MethodDelete, "/v1/batches/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/v1/batches/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateBatchRejectsBadInput(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"name":`},
		{name: "unknown field", body: `{"name":"x","urls":["https://example.com"],"workers":3}`},
		{name: "no urls", body: `{"name":"x"}`},
		{name: "no name", body: `{"urls":["https://example.com"]}`},
		{name: "bad format", body: `{"name":"x","urls":["https://example.com"],"output_format":"pdf"}`},
		{name: "zero workers", body: `{"name":"x","urls":["https://example.com"],"concurrent_workers":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := ts.do(t, http.MethodPost, "/v1/batches", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestBatchErrors(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(t, http.MethodPost, "/v1/batches", `{"name":"idle","urls":["https://example.com"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[batchResponse](t, rec).ID

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "missing batch", method: http.MethodGet, path: "/v1/batches/missing", want: http.StatusNotFound},
		{name: "start missing", method: http.MethodPost, path: "/v1/batches/missing/start", want: http.StatusNotFound},
		{name: "pause pending", method: http.MethodPost, path: "/v1/batches/" + id + "/pause", want: http.StatusConflict},
		{name: "export without results", method: http.MethodGet, path: "/v1/batches/" + id + "/export", want: http.StatusNotFound},
		{name: "retry missing item", method: http.MethodPost, path: "/v1/items/missing/retry", want: http.StatusNotFound},
		{name: "bad status filter", method: http.MethodGet, path: "/v1/batches?status=bogus", want: http.StatusBadRequest},
		{name: "bad limit", method: http.MethodGet, path: "/v1/batches?limit=0", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := ts.do(t, tt.method, tt.path, "")
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestListBatches(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	for _, name := range []string{"one", "two"} {
		rec := ts.do(t, http.MethodPost, "/v1/batches", `{"name":"`+name+`","urls":["https://example.com"]}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/v1/batches?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Batches []batchResponse `json:"batches"`
	}](t, rec)
	require.Len(t, list.Batches, 2)

	rec = ts.do(t, http.MethodGet, "/v1/batches?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"batches":[]}`, rec.Body.String())
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	ts := newTestServer(t, cfg)

	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/batches", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/batches", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type downStore struct {
	*memory.BatchStore
}

func (downStore) ListBatches(context.Context, store.BatchFilter) ([]crawler.BatchJob, error) {
	return nil, errors.New("connection reset")
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(ts.sched, downStore{memory.NewBatchStore()}, nil, testConfig(), nil)
	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batches", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection reset")
}

func TestFailStatusMapping(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil, testConfig(), nil)
	tests := []struct {
		err  error
		want int
	}{
		{crawler.ErrInvalidConfig, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{crawler.ErrNoResults, http.StatusNotFound},
		{crawler.ErrInvalidTransition, http.StatusConflict},
		{crawler.ErrBatchRunning, http.StatusConflict},
		{crawler.ErrItemNotRetryable, http.StatusConflict},
		{scheduler.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.Join(errors.New("ctx"), tt.err))
		require.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
