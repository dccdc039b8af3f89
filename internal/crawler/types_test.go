package crawler

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProgressPercentage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		counters Counters
		want     int
	}{
		{name: "empty batch", counters: Counters{}, want: 0},
		{name: "none processed", counters: Counters{Total: 3}, want: 0},
		{name: "one of three", counters: Counters{Total: 3, Processed: 1, Successful: 1}, want: 33},
		{name: "two of three rounds up", counters: Counters{Total: 3, Processed: 2, Successful: 1, Failed: 1}, want: 67},
		{name: "done", counters: Counters{Total: 2, Processed: 2, Failed: 2}, want: 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.counters.ProgressPercentage())
		})
	}
}

func TestRemainingURLsNeverNegative(t *testing.T) {
	t.Parallel()

	batch := BatchJob{Counters: Counters{Total: 2, Processed: 5}}
	require.Equal(t, 0, batch.RemainingURLs())

	batch.Processed = 1
	require.Equal(t, 1, batch.RemainingURLs())
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseOutputFormat(" MD ")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, f)

	f, err = ParseOutputFormat("json")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, f)

	_, err = ParseOutputFormat("pdf")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateTransition(BatchStatusPending, BatchStatusRunning))
	require.NoError(t, ValidateTransition(BatchStatusRunning, BatchStatusPaused))
	require.NoError(t, ValidateTransition(BatchStatusPaused, BatchStatusRunning))
	require.NoError(t, ValidateTransition(BatchStatusCompleted, BatchStatusPending))

	err := ValidateTransition(BatchStatusCompleted, BatchStatusRunning)
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = ValidateTransition(BatchStatus("bogus"), BatchStatusRunning)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	require.True(t, CanStart(BatchStatusPending))
	require.True(t, CanStart(BatchStatusPaused))
	require.False(t, CanStart(BatchStatusRunning))
	require.True(t, CanPause(BatchStatusRunning))
	require.False(t, CanPause(BatchStatusPaused))
	require.True(t, CanRetry(BatchStatusFailed))
	require.False(t, CanRetry(BatchStatusPaused))
	require.False(t, CanDelete(BatchStatusRunning))
	require.True(t, CanDelete(BatchStatusCompleted))
	require.True(t, ItemStatusSkipped.Terminal())
	require.False(t, ItemStatusProcessing.Terminal())
}

func validSpec() BatchSpec {
	return BatchSpec{
		Name:              "prices",
		URLs:              []string{"https://example.com/a", "https://example.com/a"},
		Format:            FormatMarkdown,
		ConcurrentWorkers: 3,
		TimeoutPerURL:     time.Minute,
		RateLimit: RateLimitConfig{
			RandomDelayMin:      time.Second,
			RandomDelayMax:      5 * time.Second,
			AdaptiveDelayFactor: 2,
			RequestsBeforeBreak: 50,
			BreakDuration:       30 * time.Second,
		},
	}
}

func TestBatchSpecValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validSpec().Validate())

	empty := validSpec()
	empty.URLs = nil
	require.ErrorIs(t, empty.Validate(), ErrInvalidConfig)

	bad := validSpec()
	bad.Name = " "
	bad.ConcurrentWorkers = 0
	bad.RateLimit.RandomDelayMax = 0
	bad.RateLimit.AdaptiveDelayFactor = 0.5
	err := bad.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Contains(t, err.Error(), "name is required")
	require.Contains(t, err.Error(), "concurrent_workers")
	require.Contains(t, err.Error(), "random_delay_max")
	require.Contains(t, err.Error(), "adaptive_delay_factor")
	require.False(t, errors.Is(err, ErrInvalidTransition))
}

func TestBatchSpecValidateRejectsNonFiniteFactor(t *testing.T) {
	t.Parallel()

	for _, factor := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		s := validSpec()
		s.RateLimit.AdaptiveDelayFactor = factor
		err := s.Validate()
		require.ErrorIs(t, err, ErrInvalidConfig, "factor %v", factor)
		require.Contains(t, err.Error(), "adaptive_delay_factor must be finite")
	}

	huge := validSpec()
	huge.RateLimit.AdaptiveDelayFactor = 1e300
	require.NoError(t, huge.Validate())
}

func TestParseURLList(t *testing.T) {
	t.Parallel()

	text := "https://a.example\r\n\n# skipped\n  https://b.example  # trailing note\nhttps://a.example\nhttps://c.example/#frag\n"
	got := ParseURLList(text)
	require.Equal(t, []string{
		"https://a.example",
		"https://b.example",
		"https://a.example",
		"https://c.example/#frag",
	}, got)
	require.Empty(t, ParseURLList("\n  \n#only comments"))
}
