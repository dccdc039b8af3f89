// Package batchfile reads operator batch definitions from YAML, TOML or JSON
// and turns them into batch specs over the configured defaults.
package batchfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

// Definition is a batch as written by an operator. Nil fields keep the default.
type Definition struct {
	Name              string    `json:"name" yaml:"name" toml:"name"`
	Description       string    `json:"description" yaml:"description" toml:"description"`
	URLs              []string  `json:"urls" yaml:"urls" toml:"urls"`
	URLsText          string    `json:"urls_text" yaml:"urls_text" toml:"urls_text"`
	OutputDir         string    `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	Format            *string   `json:"output_format" yaml:"output_format" toml:"output_format"`
	ConcurrentWorkers *int      `json:"concurrent_workers" yaml:"concurrent_workers" toml:"concurrent_workers"`
	TimeoutSeconds    *float64  `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	UseBrowser        *bool     `json:"use_browser" yaml:"use_browser" toml:"use_browser"`
	IncludeImages     *bool     `json:"include_images" yaml:"include_images" toml:"include_images"`
	IncludeLinks      *bool     `json:"include_links" yaml:"include_links" toml:"include_links"`
	RateLimit         RateLimit `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimit overrides the politeness defaults.
type RateLimit struct {
	UseRandomDelay        *bool    `json:"use_random_delay" yaml:"use_random_delay" toml:"use_random_delay"`
	RandomDelayMinSeconds *float64 `json:"random_delay_min_seconds" yaml:"random_delay_min_seconds" toml:"random_delay_min_seconds"`
	RandomDelayMaxSeconds *float64 `json:"random_delay_max_seconds" yaml:"random_delay_max_seconds" toml:"random_delay_max_seconds"`
	UseAdaptiveDelay      *bool    `json:"use_adaptive_delay" yaml:"use_adaptive_delay" toml:"use_adaptive_delay"`
	AdaptiveDelayFactor   *float64 `json:"adaptive_delay_factor" yaml:"adaptive_delay_factor" toml:"adaptive_delay_factor"`
	UseScheduledBreaks    *bool    `json:"use_scheduled_breaks" yaml:"use_scheduled_breaks" toml:"use_scheduled_breaks"`
	RequestsBeforeBreak   *int     `json:"requests_before_break" yaml:"requests_before_break" toml:"requests_before_break"`
	BreakDurationSeconds  *float64 `json:"break_duration_seconds" yaml:"break_duration_seconds" toml:"break_duration_seconds"`
}

// Spec applies d over defaults. URLs from the list and from URLsText are
// concatenated in that order. The result is not validated.
func (d Definition) Spec(defaults crawler.BatchSpec) (crawler.BatchSpec, error) {
	spec := defaults
	spec.Name = strings.TrimSpace(d.Name)
	spec.Description = strings.TrimSpace(d.Description)
	spec.OutputDir = d.OutputDir
	spec.URLs = append(append([]string(nil), d.URLs...), crawler.ParseURLList(d.URLsText)...)

	if d.Format != nil {
		format, err := crawler.ParseOutputFormat(*d.Format)
		if err != nil {
			return crawler.BatchSpec{}, err
		}
		spec.Format = format
	}
	set(&spec.ConcurrentWorkers, d.ConcurrentWorkers)
	if d.TimeoutSeconds != nil {
		spec.TimeoutPerURL = seconds(*d.TimeoutSeconds)
	}
	set(&spec.Content.UseBrowser, d.UseBrowser)
	set(&spec.Content.IncludeImages, d.IncludeImages)
	set(&spec.Content.IncludeLinks, d.IncludeLinks)

	rl, dst := d.RateLimit, &spec.RateLimit
	set(&dst.UseRandomDelay, rl.UseRandomDelay)
	if rl.RandomDelayMinSeconds != nil {
		dst.RandomDelayMin = seconds(*rl.RandomDelayMinSeconds)
	}
	if rl.RandomDelayMaxSeconds != nil {
		dst.RandomDelayMax = seconds(*rl.RandomDelayMaxSeconds)
	}
	set(&dst.UseAdaptiveDelay, rl.UseAdaptiveDelay)
	set(&dst.AdaptiveDelayFactor, rl.AdaptiveDelayFactor)
	set(&dst.UseScheduledBreaks, rl.UseScheduledBreaks)
	set(&dst.RequestsBeforeBreak, rl.RequestsBeforeBreak)
	if rl.BreakDurationSeconds != nil {
		dst.BreakDuration = seconds(*rl.BreakDurationSeconds)
	}
	return spec, nil
}

// Load reads a definition, choosing the decoder by file extension.
func Load(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read batch file: %w", err)
	}
	return Decode(data, filepath.Ext(path))
}

// Decode parses data in the format named by ext (".yaml", ".yml", ".toml" or ".json").
// Unknown keys are rejected.
func Decode(data []byte, ext string) (Definition, error) {
	var def Definition
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return Definition{}, fmt.Errorf("decode yaml batch file: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &def)
		if err != nil {
			return Definition{}, fmt.Errorf("decode toml batch file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Definition{}, fmt.Errorf("decode toml batch file: unknown key %q", undecoded[0].String())
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return Definition{}, fmt.Errorf("decode json batch file: %w", err)
		}
	default:
		return Definition{}, fmt.Errorf("unsupported batch file extension %q", ext)
	}
	return def, nil
}

// ReadURLList reads a plain text URL list, one per line.
func ReadURLList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return crawler.ParseURLList(string(data)), nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
