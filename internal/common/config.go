package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// Config is the root operator-facing configuration (spec §6).
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig     `toml:"logging"`
	Storage     StorageConfig     `toml:"storage"`
	LM          LMConfig          `toml:"lm"`
	Broker      BrokerConfig      `toml:"broker"`
	Extraction  ExtractionConfig  `toml:"extraction"`
	Boilerplate BoilerplateConfig `toml:"boilerplate"`
	Dedup       DedupConfig       `toml:"dedup"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Scrape      ScrapeConfig      `toml:"scrape"`
	Crawl       CrawlConfig       `toml:"crawl"`
	Security    SecurityConfig    `toml:"security"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
}

// LoggingConfig controls the arbor logger (ambient stack, carried regardless
// of the spec's Non-goals — see spec §1, "HTTP API surface... out of scope"
// does not exempt the logger).
type LoggingConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "json" or "text"
}

// StorageConfig groups the relational and KV/stream backends.
type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

// SQLiteConfig configures the relational + vector store (spec §3, §6).
type SQLiteConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
	CacheSizeMB    int    `toml:"cache_size_mb"`
	BusyTimeoutMS  int    `toml:"busy_timeout_ms"`
	WALMode        bool   `toml:"wal_mode"`
	EmbeddingDim   int    `toml:"embedding_dim"`
}

// BadgerConfig configures the shared KV (request stream, DLQ, rate limit
// counters, response bucket — spec §4.3, §4.13).
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// LMProvider selects which LLMEndpoint implementation is wired at startup.
type LMProvider string

const (
	LMProviderClaude LMProvider = "claude"
	LMProviderGemini LMProvider = "gemini"
)

// LMConfig configures the remote completion service contract (spec §6).
type LMConfig struct {
	Provider             LMProvider `toml:"provider" validate:"required,oneof=claude gemini"`
	Model                string     `toml:"model"`
	APIKey               string     `toml:"api_key" validate:"notblank"`
	MaxRetries           int        `toml:"max_retries"`
	TimeoutSeconds       int        `toml:"timeout_seconds"`
	BaseTemperature      float32    `toml:"base_temperature"`
	TemperatureIncrement float32    `toml:"temperature_increment"`
}

// BrokerConfig configures the LMBroker/LMWorker (spec §4.3, §4.4).
type BrokerConfig struct {
	QueueEnabled       bool `toml:"queue_enabled"` // false => extraction calls the LLMEndpoint directly, bypassing the broker
	MaxQueueDepth      int  `toml:"max_queue_depth"`
	BackpressureSlow   int  `toml:"backpressure_slow"`
	BackpressureFull   int  `toml:"backpressure_full"`
	PollIntervalMS     int  `toml:"poll_interval_ms"`
	StreamCap          int  `toml:"stream_cap"`
	WorkerCount        int  `toml:"worker_count"`
	InitialConcurrency int  `toml:"initial_concurrency"`
	MinConcurrency     int  `toml:"min_concurrency" validate:"gt=0"`
	MaxConcurrency     int  `toml:"max_concurrency" validate:"gtefield=MinConcurrency"`
	MaxDLQRetries      int  `toml:"max_dlq_retries"`
}

// ExtractionConfig configures the SchemaOrchestrator and Classifier (spec §4.7, §4.8).
type ExtractionConfig struct {
	ContentLimit            int     `toml:"content_limit"`
	MaxConcurrentChunks     int     `toml:"max_concurrent_chunks"`
	ChunkTokenBudget        int     `toml:"chunk_token_budget"`
	ClassificationEnabled   bool    `toml:"classification_enabled"`
	SkipPatternsEnabled     bool    `toml:"skip_patterns_enabled"`
	ClassifierHighThreshold float64 `toml:"classifier_high_threshold"`
	ClassifierMedThreshold  float64 `toml:"classifier_medium_threshold"`
	ClassifierLowThreshold  float64 `toml:"classifier_low_threshold"`
	ClassifierMedTopN       int     `toml:"classifier_medium_top_n"`
	SkipURLPatterns         []string `toml:"skip_url_patterns"`
	SkipContentPatterns     []string `toml:"skip_content_patterns"`
}

// BoilerplateConfig configures the BoilerplateEngine (spec §4.6).
type BoilerplateConfig struct {
	Enabled       bool    `toml:"enabled"`
	ThresholdPct  float64 `toml:"threshold_pct"`
	MinPages      int     `toml:"min_pages"`
	MinBlockChars int     `toml:"min_block_chars"`
}

// DedupConfig configures the Deduplicator (spec §4.10).
type DedupConfig struct {
	Threshold       float64 `toml:"threshold"`
	OrphanBatchSize int     `toml:"orphan_batch_size"`
}

// SchedulerConfig configures per-type poll loops (spec §4.2).
type SchedulerConfig struct {
	PollIntervalSeconds     int `toml:"poll_interval_seconds"`
	ScrapeStaleMinutes      int `toml:"scrape_stale_minutes"`
	ExtractStaleMinutes     int `toml:"extract_stale_minutes"`
	CrawlStaleMinutes       int `toml:"crawl_stale_minutes"`
	ReportStaleMinutes      int `toml:"report_stale_minutes"`
	ScrapeConcurrency       int `toml:"scrape_concurrency"`
	CrawlConcurrency        int `toml:"crawl_concurrency"`
	ExtractConcurrency      int `toml:"extract_concurrency"`
	ReportConcurrency       int `toml:"report_concurrency"`
}

// ScrapeConfig configures per-domain rate limiting for ScrapeWorker (spec §4.13).
type ScrapeConfig struct {
	DelayMinMS             int `toml:"delay_min_ms"`
	DelayMaxMS             int `toml:"delay_max_ms"`
	MaxConcurrentPerDomain int `toml:"max_concurrent_per_domain"`
	DailyLimit             int `toml:"daily_limit"`
	TimeoutSeconds         int `toml:"timeout_seconds"`
}

// CrawlConfig configures CrawlWorker (spec §4.13).
type CrawlConfig struct {
	MaxConcurrentCrawls    int `toml:"max_concurrent_crawls"`
	PollIntervalSeconds    int `toml:"poll_interval_seconds"`
	MaxConcurrencyPerDomain int `toml:"max_concurrency_per_domain"`
}

// SecurityConfig is validated at startup (spec §7, fatal_config).
type SecurityConfig struct {
	APIKey        string `toml:"api_key" validate:"omitempty,min=16"`
	RateLimit     int    `toml:"rate_limit"`
	HTTPSRedirect bool   `toml:"https_redirect"`
}

// EmbeddingConfig configures the EmbeddingService/VectorRepo pairing.
type EmbeddingConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key" validate:"notblank"`
	Dim      int    `toml:"dim" validate:"gt=0"`
}

// NewDefaultConfig returns production-sane defaults; everything here can be
// overridden by a TOML file or KXO_* environment variable.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/kxo.db",
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
				EmbeddingDim:  768,
			},
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
		},
		LM: LMConfig{
			Provider:             LMProviderClaude,
			Model:                "claude-haiku-4-5",
			MaxRetries:           3,
			TimeoutSeconds:       300,
			BaseTemperature:      0.2,
			TemperatureIncrement: 0.15,
		},
		Broker: BrokerConfig{
			QueueEnabled:       true,
			MaxQueueDepth:      1000,
			BackpressureSlow:   500,
			BackpressureFull:   1000,
			PollIntervalMS:     100,
			StreamCap:          2000,
			WorkerCount:        4,
			InitialConcurrency: 10,
			MinConcurrency:     5,
			MaxConcurrency:     50,
			MaxDLQRetries:      3,
		},
		Extraction: ExtractionConfig{
			ContentLimit:            20000,
			MaxConcurrentChunks:     80,
			ChunkTokenBudget:        8000,
			ClassificationEnabled:   true,
			SkipPatternsEnabled:     true,
			ClassifierHighThreshold: 0.75,
			ClassifierMedThreshold:  0.40,
			ClassifierLowThreshold:  0.40,
			ClassifierMedTopN:       3,
			SkipURLPatterns:         []string{`(?i)/privacy-policy`, `(?i)/terms-of-service`, `(?i)/cookie-policy`},
			SkipContentPatterns:     []string{`(?i)^404 not found$`},
		},
		Boilerplate: BoilerplateConfig{
			Enabled:       true,
			ThresholdPct:  0.7,
			MinPages:      5,
			MinBlockChars: 50,
		},
		Dedup: DedupConfig{
			Threshold:       0.90,
			OrphanBatchSize: 50,
		},
		Scheduler: SchedulerConfig{
			PollIntervalSeconds: 5,
			ScrapeStaleMinutes:  5,
			ExtractStaleMinutes: 15,
			CrawlStaleMinutes:   30,
			ReportStaleMinutes:  10,
			ScrapeConcurrency:   1,
			CrawlConcurrency:    6,
			ExtractConcurrency:  1,
			ReportConcurrency:   1,
		},
		Scrape: ScrapeConfig{
			DelayMinMS:             1000,
			DelayMaxMS:             3000,
			MaxConcurrentPerDomain: 2,
			DailyLimit:             5000,
			TimeoutSeconds:         180,
		},
		Crawl: CrawlConfig{
			MaxConcurrentCrawls:     6,
			PollIntervalSeconds:     5,
			MaxConcurrencyPerDomain: 3,
		},
		Security: SecurityConfig{
			RateLimit: 100,
		},
		Embedding: EmbeddingConfig{
			Provider: "gemini",
			Model:    "gemini-embedding-001",
			Dim:      768,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env.
// kvStorage may be nil (the KV-backed lm_api_key/embedding_api_key overrides
// are then skipped).
func LoadFromFile(kvStorage interfaces.KeyValueStorage, path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if kvStorage != nil {
		ctx := context.Background()
		logger := GetLogger()
		if apiKey, err := kvStorage.Get(ctx, "lm_api_key"); err == nil && apiKey != "" {
			config.LM.APIKey = apiKey
		}
		if apiKey, err := kvStorage.Get(ctx, "embedding_api_key"); err == nil && apiKey != "" {
			config.Embedding.APIKey = apiKey
		}
		logger.Debug().Msg("applied KV-backed config overrides")
	}

	applyEnvOverrides(config)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("KXO_ENV"); env != "" {
		config.Environment = env
	}
	if level := os.Getenv("KXO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("KXO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if path := os.Getenv("KXO_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}
	if path := os.Getenv("KXO_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.LM.APIKey = v
	}
	if v := os.Getenv("KXO_LM_API_KEY"); v != "" {
		config.LM.APIKey = v
	}
	if v := os.Getenv("KXO_LM_PROVIDER"); v != "" {
		config.LM.Provider = LMProvider(v)
	}
	if v := os.Getenv("KXO_LM_MODEL"); v != "" {
		config.LM.Model = v
	}
	if v := os.Getenv("KXO_EMBEDDING_API_KEY"); v != "" {
		config.Embedding.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.Embedding.APIKey == "" {
		config.Embedding.APIKey = v
	}
	if v := os.Getenv("KXO_SECURITY_API_KEY"); v != "" {
		config.Security.APIKey = v
	}
	if v := os.Getenv("KXO_BROKER_QUEUE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Broker.QueueEnabled = b
		}
	}
}

// configValidator carries the "notblank" rule (required, but also rejects a
// whitespace-only string) used by the API key fields below.
var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Validate enforces fatal_config (spec §7): refuse to start on missing
// credentials or a malformed security posture. Struct-tag constraints are
// checked with go-playground/validator; failures are translated into the
// same fatal_config-prefixed messages the struct tags encode.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return translateConfigValidationError(err)
	}
	return nil
}

func translateConfigValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return fmt.Errorf("fatal_config: %w", err)
	}
	switch verrs[0].Namespace() {
	case "Config.LM.APIKey":
		return fmt.Errorf("fatal_config: LM API key is required (set ANTHROPIC_API_KEY or lm.api_key)")
	case "Config.LM.Provider":
		return fmt.Errorf("fatal_config: lm.provider must be 'claude' or 'gemini'")
	case "Config.Embedding.APIKey":
		return fmt.Errorf("fatal_config: embedding API key is required (set GEMINI_API_KEY or embedding.api_key)")
	case "Config.Embedding.Dim":
		return fmt.Errorf("fatal_config: embedding.dim must be positive")
	case "Config.Security.APIKey":
		return fmt.Errorf("fatal_config: security.api_key must be empty or at least 16 characters")
	case "Config.Storage.SQLite.Path":
		return fmt.Errorf("fatal_config: storage.sqlite.path is required")
	case "Config.Storage.Badger.Path":
		return fmt.Errorf("fatal_config: storage.badger.path is required")
	case "Config.Broker.MinConcurrency", "Config.Broker.MaxConcurrency":
		return fmt.Errorf("fatal_config: broker concurrency bounds are invalid")
	default:
		fe := verrs[0]
		return fmt.Errorf("fatal_config: %s failed '%s' validation", fe.Namespace(), fe.Tag())
	}
}

// IsProduction reports whether the environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves a named secret with env > KV > config-fallback
// priority (spec §6 Configuration is "environment-driven").
func ResolveAPIKey(ctx context.Context, kvStorage interfaces.KeyValueStorage, name string, configFallback string) (string, error) {
	envNames := map[string][]string{
		"lm_api_key":        {"ANTHROPIC_API_KEY", "KXO_LM_API_KEY"},
		"embedding_api_key": {"GEMINI_API_KEY", "KXO_EMBEDDING_API_KEY"},
	}
	if names, ok := envNames[name]; ok {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				return v, nil
			}
		}
	}
	if kvStorage != nil {
		if v, err := kvStorage.Get(ctx, name); err == nil && v != "" {
			return v, nil
		}
	}
	if configFallback != "" {
		return configFallback, nil
	}
	return "", fmt.Errorf("API key '%s' not found in environment, KV store, or config", name)
}

// StaleThreshold returns the configured stale threshold for a scheduler job type name.
func (c *Config) StaleThreshold(jobType string) time.Duration {
	switch jobType {
	case "scrape":
		return time.Duration(c.Scheduler.ScrapeStaleMinutes) * time.Minute
	case "extract":
		return time.Duration(c.Scheduler.ExtractStaleMinutes) * time.Minute
	case "crawl":
		return time.Duration(c.Scheduler.CrawlStaleMinutes) * time.Minute
	case "report":
		return time.Duration(c.Scheduler.ReportStaleMinutes) * time.Minute
	default:
		return 10 * time.Minute
	}
}
