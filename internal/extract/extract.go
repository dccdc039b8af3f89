// Package extract fetches pages and turns their HTML into crawler.Page values.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

// ErrBrowserUnavailable is returned when a batch asks for browser rendering
// but no browser fetcher is configured.
var ErrBrowserUnavailable = errors.New("browser fetcher not available: headless crawling not installed")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Crawler implements crawler.Extractor on top of a plain and an optional browser fetcher.
type Crawler struct {
	plain    crawler.Fetcher
	browser  crawler.Fetcher
	promoter Promoter
	headers  http.Header
	logger   *zap.Logger
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithBrowser sets the fetcher used when ContentOptions.UseBrowser is true.
func WithBrowser(f crawler.Fetcher) Option {
	return func(c *Crawler) {
		c.browser = f
	}
}

// WithPromotion re-fetches plain responses through the browser fetcher when p
// flags them. It has no effect without WithBrowser.
func WithPromotion(p Promoter) Option {
	return func(c *Crawler) {
		c.promoter = p
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(h http.Header) Option {
	return func(c *Crawler) {
		c.headers = h.Clone()
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Crawler) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a Crawler. plain is required.
func New(plain crawler.Fetcher, opts ...Option) (*Crawler, error) {
	if plain == nil {
		return nil, fmt.Errorf("plain fetcher is required")
	}
	c := &Crawler{plain: plain, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchAndExtract fetches rawURL and extracts its title, text, links and images.
func (c *Crawler) FetchAndExtract(ctx context.Context, rawURL string, opts crawler.ContentOptions) (crawler.Page, error) {
	if _, err := parseHTTPURL(rawURL); err != nil {
		return crawler.Page{}, err
	}
	fetcher := c.plain
	if opts.UseBrowser {
		if c.browser == nil {
			return crawler.Page{}, ErrBrowserUnavailable
		}
		fetcher = c.browser
	}

	req := crawler.FetchRequest{URL: rawURL, Headers: c.headers}
	resp, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return crawler.Page{}, err
	}
	if !opts.UseBrowser && c.browser != nil && c.promoter != nil && c.promoter.ShouldPromote(resp) {
		resp = c.promote(ctx, req, resp)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return crawler.Page{}, &StatusError{Code: resp.StatusCode}
	}

	pageURL := resp.URL
	if pageURL == "" {
		pageURL = rawURL
	}
	page, err := Extract(resp.Body, pageURL, opts)
	if err != nil {
		return crawler.Page{}, err
	}
	page.StatusCode = resp.StatusCode
	c.logger.Debug("page extracted",
		zap.String("url", pageURL),
		zap.Bool("browser", resp.UsedBrowser),
		zap.Int("text_length", len(page.TextContent)),
		zap.Int("links", len(page.Links)),
		zap.Int("images", len(page.Images)),
	)
	return page, nil
}

// promote re-fetches req through the browser, keeping the plain response when that fails.
func (c *Crawler) promote(ctx context.Context, req crawler.FetchRequest, plain crawler.FetchResponse) crawler.FetchResponse {
	resp, err := c.browser.Fetch(ctx, req)
	if err != nil {
		c.logger.Warn("browser promotion failed; using plain response",
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return plain
	}
	c.logger.Debug("promoted to browser", zap.String("url", req.URL))
	return resp
}

// Extract parses an HTML document. Main text comes from readability; when that
// yields nothing the visible body text is used instead.
func Extract(body []byte, pageURL string, opts crawler.ContentOptions) (crawler.Page, error) {
	base, err := parseHTTPURL(pageURL)
	if err != nil {
		return crawler.Page{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("parse html: %w", err)
	}

	page := crawler.Page{
		URL:     pageURL,
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		RawHTML: string(body),
	}

	article, err := readability.FromReader(bytes.NewReader(body), base)
	if err == nil {
		page.TextContent = normalizeText(article.TextContent)
		if page.Title == "" {
			page.Title = strings.TrimSpace(article.Title)
		}
	}
	if page.TextContent == "" {
		visible := doc.Find("body").Clone()
		visible.Find("script, style, noscript, template").Remove()
		page.TextContent = normalizeText(visible.Text())
	}
	if page.Title == "" {
		page.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	if opts.IncludeLinks {
		page.Links = collect(doc, "a[href]", "href", base)
	}
	if opts.IncludeImages {
		page.Images = collect(doc, "img[src]", "src", base)
	}
	return page, nil
}

func collect(doc *goquery.Document, selector, attr string, base *url.URL) []string {
	seen := make(map[string]struct{})
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr(attr)
		abs, ok := resolve(base, raw)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// normalizeText trims each line and collapses runs of blank lines to one.
func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url")
	}
	return u, nil
}
