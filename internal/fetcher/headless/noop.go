package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

// ErrUnavailable is returned by Noop. Its wording classifies as browser_not_available.
var ErrUnavailable = errors.New("browser fetcher not available: headless crawling not installed")

// Noop stands in for the browser fetcher when headless crawling is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrUnavailable.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrUnavailable
}
