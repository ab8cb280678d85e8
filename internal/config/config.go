// Package config loads the application configuration from YAML and
// environment variables and installs the process-global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Progress   ProgressConfig   `yaml:"progress" mapstructure:"progress"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Timeouts   PhaseTimeouts    `yaml:"timeouts" mapstructure:"timeouts"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DiscoveryConfig bounds the link discovery phase.
type DiscoveryConfig struct {
	MaxDepth        int      `yaml:"max_depth" mapstructure:"max_depth"`
	MaxLinksPerPage int      `yaml:"max_links_per_page" mapstructure:"max_links_per_page"`
	MaxVisitedURLs  int      `yaml:"max_visited_urls" mapstructure:"max_visited_urls"`
	WallTimeSecs    int      `yaml:"wall_time_secs" mapstructure:"wall_time_secs"`
	ExcludePaths    []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// LLMConfig holds provider credentials and the gateway's rate limit.
type LLMConfig struct {
	AnthropicKey      string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	PrimaryModel      string `yaml:"primary_model" mapstructure:"primary_model"`
	FallbackModel     string `yaml:"fallback_model" mapstructure:"fallback_model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ExtractionConfig bounds the parallel extraction phase.
type ExtractionConfig struct {
	Concurrency  int  `yaml:"concurrency" mapstructure:"concurrency"`
	MaxPages     int  `yaml:"max_pages" mapstructure:"max_pages"`
	SSLVerify    bool `yaml:"ssl_verify" mapstructure:"ssl_verify"`
	CorpusBudget int  `yaml:"corpus_budget" mapstructure:"corpus_budget"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	Dimension int    `yaml:"dimension" mapstructure:"dimension"`
}

// StorageConfig configures the hybrid store's Postgres backend.
type StorageConfig struct {
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns         int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns         int32  `yaml:"min_conns" mapstructure:"min_conns"`
	MetadataBudget   int    `yaml:"metadata_budget" mapstructure:"metadata_budget"`
	SummaryPrefixLen int    `yaml:"summary_prefix_len" mapstructure:"summary_prefix_len"`
}

// ProgressConfig configures the progress bus persistence.
type ProgressConfig struct {
	SnapshotPath  string `yaml:"snapshot_path" mapstructure:"snapshot_path"`
	DatabasePath  string `yaml:"database_path" mapstructure:"database_path"`
	TailLogPath   string `yaml:"tail_log_path" mapstructure:"tail_log_path"`
	MaxJobs       int    `yaml:"max_jobs" mapstructure:"max_jobs"`
	StaleJobMins  int    `yaml:"stale_job_mins" mapstructure:"stale_job_mins"`
}

// FirecrawlConfig holds Firecrawl API settings (alternative rendering backend).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI Reader settings (rendered-fetch fallback).
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PhaseTimeouts holds per-phase deadlines in seconds.
type PhaseTimeouts struct {
	DiscoverySecs   int `yaml:"discovery_secs" mapstructure:"discovery_secs"`
	SelectionSecs   int `yaml:"selection_secs" mapstructure:"selection_secs"`
	ExtractionSecs  int `yaml:"extraction_secs" mapstructure:"extraction_secs"`
	AggregationSecs int `yaml:"aggregation_secs" mapstructure:"aggregation_secs"`
	PersistenceSecs int `yaml:"persistence_secs" mapstructure:"persistence_secs"`
}

// secsOr converts a seconds field to a time.Duration with a fallback.
func secsOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// Discovery returns the discovery phase deadline.
func (t PhaseTimeouts) Discovery() time.Duration { return secsOr(t.DiscoverySecs, 30*time.Second) }

// Selection returns the page selection phase deadline.
func (t PhaseTimeouts) Selection() time.Duration { return secsOr(t.SelectionSecs, 120*time.Second) }

// Extraction returns the content extraction phase deadline.
func (t PhaseTimeouts) Extraction() time.Duration { return secsOr(t.ExtractionSecs, 120*time.Second) }

// Aggregation returns the intelligence generation phase deadline.
func (t PhaseTimeouts) Aggregation() time.Duration { return secsOr(t.AggregationSecs, 120*time.Second) }

// Persistence returns the persistence phase deadline.
func (t PhaseTimeouts) Persistence() time.Duration { return secsOr(t.PersistenceSecs, 30*time.Second) }

// ResilienceConfig tunes the retry and circuit-breaker layer shared by
// every external-system caller.
type ResilienceConfig struct {
	RetryMaxAttempts        int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs   int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs       int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RetryMultiplier         float64 `yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	RetryJitter             float64 `yaml:"retry_jitter" mapstructure:"retry_jitter"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetTimeoutSecs int     `yaml:"circuit_reset_timeout_secs" mapstructure:"circuit_reset_timeout_secs"`
}

// ServerConfig configures the progress-inspection HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks required configuration fields based on run mode.
// Supported modes: "research", "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "research":
		if c.LLM.AnthropicKey == "" {
			errs = append(errs, "llm.anthropic_key is required")
		}
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, "storage.database_url is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	// Common validations
	if c.LLM.RequestsPerMinute < 1 {
		errs = append(errs, "llm.requests_per_minute must be >= 1")
	}
	if c.Extraction.Concurrency < 1 || c.Extraction.Concurrency > 50 {
		errs = append(errs, "extraction.concurrency must be between 1 and 50")
	}
	if c.Discovery.MaxDepth < 1 {
		errs = append(errs, "discovery.max_depth must be >= 1")
	}
	if c.Embedding.Dimension < 1 {
		errs = append(errs, "embedding.dimension must be >= 1")
	}
	if c.Storage.MetadataBudget < 1024 {
		errs = append(errs, "storage.metadata_budget must be >= 1024 bytes")
	}
	if c.Progress.MaxJobs < 1 {
		errs = append(errs, "progress.max_jobs must be >= 1")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: validation failed: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("THEODORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("discovery.max_depth", 3)
	v.SetDefault("discovery.max_links_per_page", 50)
	v.SetDefault("discovery.max_visited_urls", 200)
	v.SetDefault("discovery.wall_time_secs", 30)
	v.SetDefault("llm.primary_model", "claude-3-5-sonnet-latest")
	v.SetDefault("llm.fallback_model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.requests_per_minute", 8)
	v.SetDefault("extraction.concurrency", 10)
	v.SetDefault("extraction.max_pages", 50)
	v.SetDefault("extraction.ssl_verify", true)
	v.SetDefault("extraction.corpus_budget", 8000)
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.min_conns", 2)
	v.SetDefault("storage.metadata_budget", 40*1024)
	v.SetDefault("storage.summary_prefix_len", 500)
	v.SetDefault("progress.snapshot_path", "progress.json")
	v.SetDefault("progress.database_path", "progress.db")
	v.SetDefault("progress.tail_log_path", "progress.log")
	v.SetDefault("progress.max_jobs", 50)
	v.SetDefault("progress.stale_job_mins", 15)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("timeouts.discovery_secs", 30)
	v.SetDefault("timeouts.selection_secs", 120)
	v.SetDefault("timeouts.extraction_secs", 120)
	v.SetDefault("timeouts.aggregation_secs", 120)
	v.SetDefault("timeouts.persistence_secs", 30)
	v.SetDefault("resilience.retry_max_attempts", 3)
	v.SetDefault("resilience.retry_initial_backoff_ms", 500)
	v.SetDefault("resilience.retry_max_backoff_ms", 30000)
	v.SetDefault("resilience.retry_multiplier", 2.0)
	v.SetDefault("resilience.retry_jitter", 0.25)
	v.SetDefault("resilience.circuit_failure_threshold", 5)
	v.SetDefault("resilience.circuit_reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Redacted returns a copy with credential fields masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.LLM.AnthropicKey = mask(c.LLM.AnthropicKey)
	out.Embedding.Key = mask(c.Embedding.Key)
	out.Firecrawl.Key = mask(c.Firecrawl.Key)
	out.Jina.Key = mask(c.Jina.Key)
	out.Storage.DatabaseURL = mask(c.Storage.DatabaseURL)
	return out
}

// YAML renders the redacted configuration as YAML for inspection.
func (c *Config) YAML() (string, error) {
	redacted := c.Redacted()
	raw, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", eris.Wrap(err, "config: marshal yaml")
	}
	return string(raw), nil
}
