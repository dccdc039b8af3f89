package ratelimit

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

// fixedRand returns a preset fraction of n.
type fixedRand struct {
	calls int
	pick  func(n int64) int64
}

func (f *fixedRand) Int64N(n int64) int64 {
	f.calls++
	return f.pick(n)
}

func lowest() *fixedRand  { return &fixedRand{pick: func(int64) int64 { return 0 }} }
func highest() *fixedRand { return &fixedRand{pick: func(n int64) int64 { return n - 1 }} }

func TestBeforeRequestDisabled(t *testing.T) {
	t.Parallel()

	d := NewDelays(lowest())
	got, kind := d.BeforeRequest(crawler.RateLimitConfig{RandomDelayMin: time.Second, RandomDelayMax: 2 * time.Second}, 7)
	require.Zero(t, got)
	require.Equal(t, KindNone, kind)
}

func TestBeforeRequestRandomBounds(t *testing.T) {
	t.Parallel()

	cfg := crawler.RateLimitConfig{
		UseRandomDelay: true,
		RandomDelayMin: time.Second,
		RandomDelayMax: 5 * time.Second,
	}
	got, kind := NewDelays(lowest()).BeforeRequest(cfg, 1)
	require.Equal(t, time.Second, got)
	require.Equal(t, KindRandom, kind)

	got, _ = NewDelays(highest()).BeforeRequest(cfg, 1)
	require.Equal(t, 5*time.Second, got)

	cfg.RandomDelayMax = cfg.RandomDelayMin
	r := lowest()
	got, _ = NewDelays(r).BeforeRequest(cfg, 1)
	require.Equal(t, time.Second, got)
	require.Zero(t, r.calls, "a zero-width range needs no randomness")
}

func TestBeforeRequestDefaultSourceStaysInRange(t *testing.T) {
	t.Parallel()

	cfg := crawler.RateLimitConfig{
		UseRandomDelay: true,
		RandomDelayMin: 10 * time.Millisecond,
		RandomDelayMax: 20 * time.Millisecond,
	}
	d := NewDelays(nil)
	for n := 1; n <= 200; n++ {
		got, _ := d.BeforeRequest(cfg, n)
		require.GreaterOrEqual(t, got, cfg.RandomDelayMin)
		require.LessOrEqual(t, got, cfg.RandomDelayMax)
	}
}

func TestBeforeRequestScheduledBreakTakesPrecedence(t *testing.T) {
	t.Parallel()

	cfg := crawler.RateLimitConfig{
		UseRandomDelay:      true,
		RandomDelayMin:      time.Second,
		RandomDelayMax:      5 * time.Second,
		UseScheduledBreaks:  true,
		RequestsBeforeBreak: 50,
		BreakDuration:       30 * time.Second,
	}
	d := NewDelays(highest())

	for _, n := range []int{50, 100} {
		got, kind := d.BeforeRequest(cfg, n)
		require.Equal(t, 30*time.Second, got, "request %d", n)
		require.Equal(t, KindBreak, kind)
	}
	for _, n := range []int{0, 1, 49, 51, 99} {
		got, kind := d.BeforeRequest(cfg, n)
		require.Equal(t, KindRandom, kind, "request %d", n)
		require.LessOrEqual(t, got, 5*time.Second)
	}
}

func TestAfterResponseAdaptive(t *testing.T) {
	t.Parallel()

	d := NewDelays(lowest())
	cfg := crawler.RateLimitConfig{UseAdaptiveDelay: true, AdaptiveDelayFactor: 2}
	require.Equal(t, 6*time.Second, d.AfterResponse(cfg, 3*time.Second))
	require.Zero(t, d.AfterResponse(cfg, 0))

	cfg.UseAdaptiveDelay = false
	require.Zero(t, d.AfterResponse(cfg, 3*time.Second))
}

func TestAfterResponseCapsHugeFactors(t *testing.T) {
	t.Parallel()

	d := NewDelays(lowest())
	for _, factor := range []float64{1e300, math.Inf(1)} {
		cfg := crawler.RateLimitConfig{UseAdaptiveDelay: true, AdaptiveDelayFactor: factor}
		require.Equal(t, time.Duration(math.MaxInt64), d.AfterResponse(cfg, 3*time.Second), "factor %v", factor)
	}
	cfg := crawler.RateLimitConfig{UseAdaptiveDelay: true, AdaptiveDelayFactor: math.NaN()}
	require.Zero(t, d.AfterResponse(cfg, 3*time.Second))
}

func TestBeforeRequestFullRangeSpan(t *testing.T) {
	t.Parallel()

	rnd := highest()
	d := NewDelays(rnd)
	cfg := crawler.RateLimitConfig{UseRandomDelay: true, RandomDelayMax: math.MaxInt64}
	got, kind := d.BeforeRequest(cfg, 1)
	require.Equal(t, KindRandom, kind)
	require.Equal(t, time.Duration(math.MaxInt64-1), got)
	require.Equal(t, 1, rnd.calls)
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sleep(context.Background(), 0))
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}
