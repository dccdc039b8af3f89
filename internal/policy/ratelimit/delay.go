// Package ratelimit computes per-batch politeness delays and throttles requests per host.
package ratelimit

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

// Rand is the randomness source used for random delays.
type Rand interface {
	// Int64N returns a non-negative value in [0, n).
	Int64N(n int64) int64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Int64N(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int64N(n)
}

// Delays computes the pause before and after each request of a batch.
type Delays struct {
	rand Rand
}

// NewDelays builds a Delays using r, or a time-seeded source when r is nil.
func NewDelays(r Rand) *Delays {
	if r == nil {
		seed := uint64(time.Now().UnixNano())
		r = &lockedRand{r: rand.New(rand.NewPCG(seed, seed>>1|1))}
	}
	return &Delays{rand: r}
}

// Kind names which rule produced a delay.
type Kind string

// Delay kinds.
const (
	KindNone     Kind = ""
	KindBreak    Kind = "break"
	KindRandom   Kind = "random"
	KindAdaptive Kind = "adaptive"
)

// BeforeRequest returns the pause to take before the n-th request (1-based) of a run.
// A scheduled break replaces the random delay on every RequestsBeforeBreak-th request.
func (d *Delays) BeforeRequest(cfg crawler.RateLimitConfig, n int) (time.Duration, Kind) {
	if cfg.UseScheduledBreaks && cfg.RequestsBeforeBreak > 0 && n > 0 && n%cfg.RequestsBeforeBreak == 0 {
		return cfg.BreakDuration, KindBreak
	}
	if cfg.UseRandomDelay {
		span := cfg.RandomDelayMax - cfg.RandomDelayMin
		if span <= 0 {
			return max(cfg.RandomDelayMin, 0), KindRandom
		}
		// Int64N is half-open; +1 makes the upper bound reachable unless it would overflow.
		n := int64(span)
		if n < math.MaxInt64 {
			n++
		}
		return cfg.RandomDelayMin + time.Duration(d.rand.Int64N(n)), KindRandom
	}
	return 0, KindNone
}

// AfterResponse returns observed*AdaptiveDelayFactor when adaptive delay is on,
// capped at the longest representable duration.
func (d *Delays) AfterResponse(cfg crawler.RateLimitConfig, observed time.Duration) time.Duration {
	if !cfg.UseAdaptiveDelay || observed <= 0 || math.IsNaN(cfg.AdaptiveDelayFactor) {
		return 0
	}
	delay := float64(observed) * cfg.AdaptiveDelayFactor
	if delay >= math.MaxInt64 {
		return math.MaxInt64
	}
	if delay <= 0 {
		return 0
	}
	return time.Duration(delay)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
