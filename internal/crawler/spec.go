package crawler

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// BatchSpec is the operator-supplied definition of a new batch.
type BatchSpec struct {
	Name              string
	Description       string
	URLs              []string
	OutputDir         string
	Format            OutputFormat
	ConcurrentWorkers int
	TimeoutPerURL     time.Duration
	Content           ContentOptions
	RateLimit         RateLimitConfig
}

// Validate reports every problem with s at once. The returned error wraps ErrInvalidConfig.
func (s BatchSpec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(s.URLs) == 0 {
		errs = append(errs, errors.New("at least one url is required"))
	}
	for i, u := range s.URLs {
		if strings.TrimSpace(u) == "" {
			errs = append(errs, fmt.Errorf("urls[%d] is empty", i))
		}
	}
	if !s.Format.Valid() {
		errs = append(errs, fmt.Errorf("unknown output format %q", s.Format))
	}
	if s.ConcurrentWorkers < 1 {
		errs = append(errs, errors.New("concurrent_workers must be >= 1"))
	}
	if s.TimeoutPerURL <= 0 {
		errs = append(errs, errors.New("timeout_per_url must be > 0"))
	}
	rl := s.RateLimit
	if rl.RandomDelayMin < 0 {
		errs = append(errs, errors.New("random_delay_min must be >= 0"))
	}
	if rl.RandomDelayMax < rl.RandomDelayMin {
		errs = append(errs, errors.New("random_delay_max must be >= random_delay_min"))
	}
	switch f := rl.AdaptiveDelayFactor; {
	case math.IsNaN(f) || math.IsInf(f, 0):
		errs = append(errs, errors.New("adaptive_delay_factor must be finite"))
	case f < 1:
		errs = append(errs, errors.New("adaptive_delay_factor must be >= 1"))
	}
	if rl.RequestsBeforeBreak < 1 {
		errs = append(errs, errors.New("requests_before_break must be >= 1"))
	}
	if rl.BreakDuration < 0 {
		errs = append(errs, errors.New("break_duration must be >= 0"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ParseURLList splits operator text into URLs. Blank lines and # comments are ignored;
// order and duplicates are kept.
func ParseURLList(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	urls := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line != "" {
			urls = append(urls, line)
		}
	}
	return urls
}
