// Package output renders extracted pages in a batch's format and stores them
// through a BlobStore.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/markdown"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

const maxStemLength = 50

var contentTypes = map[crawler.OutputFormat]string{
	crawler.FormatMarkdown: "text/markdown; charset=utf-8",
	crawler.FormatHTML:     "text/html; charset=utf-8",
	crawler.FormatText:     "text/plain; charset=utf-8",
	crawler.FormatJSON:     "application/json",
}

// Writer implements crawler.OutputWriter.
type Writer struct {
	blobs crawler.BlobStore
	clock crawler.Clock

	mu sync.Mutex
	// used holds the names handed out within the current second; names carry the
	// second in their timestamp, so older ones cannot be produced again.
	used  map[string]struct{}
	stamp time.Time
}

// New builds a Writer over blobs.
func New(blobs crawler.BlobStore, clock crawler.Clock) (*Writer, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Writer{
		blobs: blobs,
		clock: clock,
		used:  make(map[string]struct{}),
	}, nil
}

// Write renders page and stores it under outputDir, returning the stored location.
func (w *Writer) Write(ctx context.Context, page crawler.Page, format crawler.OutputFormat, outputDir string) (string, error) {
	data, err := Render(page, format)
	if err != nil {
		return "", err
	}
	name := w.reserve(outputDir, page.URL, format)
	location, err := w.blobs.PutObject(ctx, name, contentTypes[format], bytes.NewReader(data))
	if err != nil {
		w.release(name)
		return "", fmt.Errorf("save output file: %w", err)
	}
	return location, nil
}

// Read returns the stored bytes for a location previously returned by Write.
func (w *Writer) Read(ctx context.Context, location string) ([]byte, error) {
	data, err := w.blobs.GetObject(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("read output file: %w", err)
	}
	return data, nil
}

// reserve returns dir/name for rawURL, adding a numeric suffix when that path
// was already handed out by this writer in the same second.
func (w *Writer) reserve(dir, rawURL string, format crawler.OutputFormat) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now().Truncate(time.Second)
	if !now.Equal(w.stamp) {
		w.stamp = now
		clear(w.used)
	}
	name := Filename(rawURL, format, now)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := path.Join(dir, name)
	for i := 1; ; i++ {
		if _, taken := w.used[candidate]; !taken {
			w.used[candidate] = struct{}{}
			return candidate
		}
		candidate = path.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}

func (w *Writer) release(name string) {
	w.mu.Lock()
	delete(w.used, name)
	w.mu.Unlock()
}

// Filename derives a filesystem-safe name from the URL and timestamp.
func Filename(rawURL string, format crawler.OutputFormat, at time.Time) string {
	replacer := strings.NewReplacer("://", "_", "/", "_", "?", "_")
	safe := replacer.Replace(rawURL)
	var b strings.Builder
	for _, r := range safe {
		if b.Len() == maxStemLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		}
	}
	stem := b.String()
	if stem == "" {
		stem = "page"
	}
	return fmt.Sprintf("%s_%s.%s", stem, at.Format("20060102_150405"), format)
}

// Render serializes page in format.
func Render(page crawler.Page, format crawler.OutputFormat) ([]byte, error) {
	switch format {
	case crawler.FormatMarkdown:
		return renderMarkdown(page)
	case crawler.FormatHTML:
		return []byte(page.RawHTML), nil
	case crawler.FormatText:
		return []byte(page.TextContent), nil
	case crawler.FormatJSON:
		data, err := json.MarshalIndent(page, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json output: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown output format %q: %w", format, crawler.ErrInvalidConfig)
	}
}

func renderMarkdown(page crawler.Page) ([]byte, error) {
	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)

	title := page.Title
	if title == "" {
		title = page.URL
	}
	md.H1(title)
	md.PlainText("")
	md.PlainTextf("%s %s", markdown.Bold("Source:"), page.URL)
	md.PlainText("")
	if page.TextContent != "" {
		md.PlainText(page.TextContent)
		md.PlainText("")
	}
	if len(page.Links) > 0 {
		md.H2("Links")
		md.PlainText("")
		links := make([]string, 0, len(page.Links))
		for _, l := range page.Links {
			links = append(links, markdown.Link(l, l))
		}
		md.BulletList(links...)
		md.PlainText("")
	}
	if len(page.Images) > 0 {
		md.H2("Images")
		md.PlainText("")
		md.BulletList(page.Images...)
		md.PlainText("")
	}
	if err := md.Build(); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.Bytes(), nil
}
