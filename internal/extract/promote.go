package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

// Promoter decides whether a plain response needs a browser re-fetch.
type Promoter interface {
	ShouldPromote(resp crawler.FetchResponse) bool
}

const (
	defaultShellBytes  = 2048
	minVisibleText     = 200
	scriptSharePercent = 25
)

var mountMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
}

// ShellDetector flags pages that look like client-rendered shells: empty
// bodies, framework mount points with almost no text, or small documents
// dominated by script.
type ShellDetector struct {
	MaxShellBytes int
}

// NewShellDetector returns a detector; maxShellBytes <= 0 uses 2048.
func NewShellDetector(maxShellBytes int) *ShellDetector {
	if maxShellBytes <= 0 {
		maxShellBytes = defaultShellBytes
	}
	return &ShellDetector{MaxShellBytes: maxShellBytes}
}

// ShouldPromote implements Promoter.
func (d *ShellDetector) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.UsedBrowser {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	var scriptBytes int
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	doc.Find("script, style, noscript").Remove()
	visible := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))

	if visible < minVisibleText {
		for _, marker := range mountMarkers {
			if bytes.Contains(body, marker) {
				return true
			}
		}
	}
	return len(body) < d.MaxShellBytes && scriptBytes*100/len(body) >= scriptSharePercent
}
