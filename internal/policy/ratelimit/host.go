package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostConfig holds the per-host token bucket settings.
type HostConfig struct {
	RPS   float64
	Burst int
}

// HostLimiter bounds request rate per host across every running batch.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewHostLimiter returns nil when cfg.RPS <= 0, which disables host limiting.
func NewHostLimiter(cfg HostConfig) *HostLimiter {
	if cfg.RPS <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(cfg.RPS),
		burst:    burst,
	}
}

// Wait blocks until a token is available for the URL's host and reports how long it waited.
// A nil HostLimiter never waits.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	return time.Since(start), nil
}
