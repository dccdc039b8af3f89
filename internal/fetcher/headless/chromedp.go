// Package headless contains the browser fetchers used for pages that only
// render with JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/metrics"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultSettleDelay = 500 * time.Millisecond
)

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("browser fetcher closed")

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps open tabs. Zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready so scripts can render. Zero uses 500ms.
	SettleDelay time.Duration
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Fetcher implements crawler.Fetcher with one headless Chrome process and a
// tab per fetch. Chrome is started on the first Fetch.
type Fetcher struct {
	cfg   Config
	slots *semaphore.Weighted

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("browser max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, allocCtx: allocCtx, allocCancel: allocCancel}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return f, nil
}

// Close shuts Chrome down. In-flight fetches fail.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.browserCancel != nil {
		f.browserCancel()
	}
	f.allocCancel()
}

// Fetch renders request.URL in a new tab and returns the resulting DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("browser slot wait canceled: %w", err)
		}
		defer f.slots.Release(1)
	}
	browserCtx, err := f.browser()
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	// Stop waiting when the caller's context ends, not just at the nav timeout.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, finalURL string
	err = chromedp.Run(tabCtx,
		f.headersAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		metrics.ObserveFetch(request.URL, "browser", 0)
		return crawler.FetchResponse{}, fmt.Errorf("browser navigation failed: %w", err)
	}

	status, headers, url := doc.result(request.URL, finalURL)
	metrics.ObserveFetch(request.URL, "browser", status)
	return crawler.FetchResponse{
		URL:         url,
		StatusCode:  status,
		Headers:     headers,
		Body:        []byte(html),
		Duration:    time.Since(start),
		UsedBrowser: true,
	}, nil
}

// browser returns the shared browser context, starting Chrome if needed.
func (f *Fetcher) browser() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if f.browserCtx != nil && f.browserCtx.Err() == nil {
		return f.browserCtx, nil
	}
	ctx, cancel := chromedp.NewContext(f.allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	f.browserCtx, f.browserCancel = ctx, cancel
	return ctx, nil
}

func (f *Fetcher) headersAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// documentResponse keeps the first document response of a tab. Redirect hops
// do not emit EventResponseReceived, so the first one is the navigated page;
// later ones come from iframes.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(e.Response.Status)
	d.headers = fromNetworkHeaders(e.Response.Headers)
	d.url = e.Response.URL
}

// result falls back to the browser location, then the requested URL, and to 200
// when no document response was observed.
func (d *documentResponse) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, headers, url := d.status, d.headers.Clone(), d.url
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

// fromNetworkHeaders converts CDP headers, where repeated values arrive joined by newlines.
func fromNetworkHeaders(src network.Headers) http.Header {
	dst := make(http.Header, len(src))
	for key, value := range src {
		for _, v := range strings.Split(fmt.Sprint(value), "\n") {
			dst.Add(key, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := make(network.Headers, len(h))
	for key, values := range h {
		if len(values) > 0 {
			headers[key] = strings.Join(values, "\n")
		}
	}
	return headers
}
