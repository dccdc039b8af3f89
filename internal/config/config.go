// Package config loads and validates batchcrawl configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

// AppName namespaces data directories and the env prefix.
const AppName = "batchcrawl"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Store    StoreConfig    `mapstructure:"store"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the plain fetcher and host politeness.
type CrawlerConfig struct {
	UserAgent     string  `mapstructure:"user_agent"`
	RespectRobots bool    `mapstructure:"respect_robots"`
	HostRPS       float64 `mapstructure:"host_rps"`
	HostBurst     int     `mapstructure:"host_burst"`
	MaxBodyBytes  int     `mapstructure:"max_body_bytes"`
}

// HTTPConfig configures the plain fetcher's HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the browser fetcher.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	ExecPath      string `mapstructure:"exec_path"`

	// AutoPromote re-renders plain responses that look like client-side shells.
	AutoPromote   bool `mapstructure:"auto_promote"`
	MaxShellBytes int  `mapstructure:"max_shell_bytes"`
}

// BatchConfig holds the defaults applied to new batches.
type BatchConfig struct {
	ConcurrentWorkers     int     `mapstructure:"concurrent_workers"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	Format                string  `mapstructure:"format"`
	UseBrowser            bool    `mapstructure:"use_browser"`
	IncludeImages         bool    `mapstructure:"include_images"`
	IncludeLinks          bool    `mapstructure:"include_links"`
	UseRandomDelay        bool    `mapstructure:"use_random_delay"`
	RandomDelayMinSeconds float64 `mapstructure:"random_delay_min_seconds"`
	RandomDelayMaxSeconds float64 `mapstructure:"random_delay_max_seconds"`
	UseAdaptiveDelay      bool    `mapstructure:"use_adaptive_delay"`
	AdaptiveDelayFactor   float64 `mapstructure:"adaptive_delay_factor"`
	UseScheduledBreaks    bool    `mapstructure:"use_scheduled_breaks"`
	RequestsBeforeBreak   int     `mapstructure:"requests_before_break"`
	BreakDurationSeconds  float64 `mapstructure:"break_duration_seconds"`
}

// StorageConfig selects where rendered outputs are written.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// StoreConfig selects the batch store.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	LogEnabled     bool `mapstructure:"log_enabled"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMS int  `mapstructure:"max_batch_wait_ms"`
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional file, the environment and defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := filepath.Join(xdg.DataHome, AppName)

	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", "batchcrawl/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.host_rps", 0)
	v.SetDefault("crawler.host_burst", 1)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.auto_promote", false)
	v.SetDefault("headless.max_shell_bytes", 2048)

	v.SetDefault("batch.concurrent_workers", 3)
	v.SetDefault("batch.timeout_seconds", 60)
	v.SetDefault("batch.format", string(crawler.FormatMarkdown))
	v.SetDefault("batch.use_browser", false)
	v.SetDefault("batch.include_images", true)
	v.SetDefault("batch.include_links", true)
	v.SetDefault("batch.use_random_delay", false)
	v.SetDefault("batch.random_delay_min_seconds", 1)
	v.SetDefault("batch.random_delay_max_seconds", 5)
	v.SetDefault("batch.use_adaptive_delay", false)
	v.SetDefault("batch.adaptive_delay_factor", 2)
	v.SetDefault("batch.use_scheduled_breaks", false)
	v.SetDefault("batch.requests_before_break", 50)
	v.SetDefault("batch.break_duration_seconds", 30)

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", filepath.Join(dataDir, "outputs"))
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", filepath.Join(dataDir, "batches.db"))
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.max_conn_lifetime", time.Hour)

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", AppName)
	v.SetDefault("tracing.sample_ratio", 1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Crawler.HostRPS < 0 {
		errs = append(errs, errors.New("crawler.host_rps must be >= 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			errs = append(errs, errors.New("storage.base_dir is required for the local backend"))
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id is required when pubsub.topic is set"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0, 1]"))
	}
	if _, err := crawler.ParseOutputFormat(c.Batch.Format); err != nil {
		errs = append(errs, fmt.Errorf("batch.format: %w", err))
	}
	return errors.Join(errs...)
}

// BatchDefaults returns a spec template carrying the configured defaults.
// Callers fill in Name and URLs and override what the operator set.
func (c Config) BatchDefaults() crawler.BatchSpec {
	b := c.Batch
	format, err := crawler.ParseOutputFormat(b.Format)
	if err != nil {
		format = crawler.FormatMarkdown
	}
	return crawler.BatchSpec{
		Format:            format,
		ConcurrentWorkers: b.ConcurrentWorkers,
		TimeoutPerURL:     seconds(float64(b.TimeoutSeconds)),
		Content: crawler.ContentOptions{
			UseBrowser:    b.UseBrowser,
			IncludeImages: b.IncludeImages,
			IncludeLinks:  b.IncludeLinks,
		},
		RateLimit: crawler.RateLimitConfig{
			UseRandomDelay:      b.UseRandomDelay,
			RandomDelayMin:      seconds(b.RandomDelayMinSeconds),
			RandomDelayMax:      seconds(b.RandomDelayMaxSeconds),
			UseAdaptiveDelay:    b.UseAdaptiveDelay,
			AdaptiveDelayFactor: b.AdaptiveDelayFactor,
			UseScheduledBreaks:  b.UseScheduledBreaks,
			RequestsBeforeBreak: b.RequestsBeforeBreak,
			BreakDuration:       seconds(b.BreakDurationSeconds),
		},
	}
}

// FetchTimeout is the plain fetcher's per-request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout is the browser fetcher's navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// MaxBatchWait is the progress hub flush interval.
func (c Config) MaxBatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMS) * time.Millisecond
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
