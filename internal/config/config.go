package config

import (
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/studio-catalog/internal/merge"
	"github.com/sells-group/studio-catalog/internal/ratelimit"
	"github.com/sells-group/studio-catalog/internal/resilience"
	"github.com/sells-group/studio-catalog/internal/similarity"
	"github.com/sells-group/studio-catalog/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig             `yaml:"store" mapstructure:"store"`
	Log        LogConfig               `yaml:"log" mapstructure:"log"`
	Server     ServerConfig            `yaml:"server" mapstructure:"server"`
	Ingest     IngestConfig            `yaml:"ingest" mapstructure:"ingest"`
	Scorer     similarity.Config       `yaml:"scorer" mapstructure:"scorer"`
	Merge      MergeConfig             `yaml:"merge" mapstructure:"merge"`
	Fetch      FetchConfig             `yaml:"fetch" mapstructure:"fetch"`
	Retry      RetryConfig             `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig           `yaml:"circuit" mapstructure:"circuit"`
	Notion     NotionConfig            `yaml:"notion" mapstructure:"notion"`
	Monitoring MonitoringConfig        `yaml:"monitoring" mapstructure:"monitoring"`
	Sources    map[string]SourceConfig `yaml:"sources" mapstructure:"sources"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the job control HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// IngestConfig configures job execution.
type IngestConfig struct {
	MaxConcurrentJobs   int `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	ShutdownTimeoutSecs int `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// MergeConfig configures conflict resolution.
type MergeConfig struct {
	FoundedYearPolicy string      `yaml:"founded_year_policy" mapstructure:"founded_year_policy"`
	Bands             BandsConfig `yaml:"bands" mapstructure:"bands"`
}

// BandsConfig sets the match-score boundaries between merge decisions.
type BandsConfig struct {
	AutoMerge float64 `yaml:"auto_merge" mapstructure:"auto_merge"`
	Merge     float64 `yaml:"merge" mapstructure:"merge"`
	Review    float64 `yaml:"review" mapstructure:"review"`
}

// FetchConfig configures the shared HTTP fetcher.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	HostRate    float64 `yaml:"host_rate" mapstructure:"host_rate"`
}

// RetryConfig configures retries of transient source and store failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the per-source circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// NotionConfig holds the default Notion integration token.
type NotionConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
}

// MonitoringConfig configures ingestion health alerts. Alerts are only
// sent when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
}

// RateLimitConfig is a sliding-window request budget.
type RateLimitConfig struct {
	Requests int `yaml:"requests" mapstructure:"requests"`
	WindowMs int `yaml:"window_ms" mapstructure:"window_ms"`
}

// SourceConfig configures one data source.
type SourceConfig struct {
	Name           string          `yaml:"name" mapstructure:"name"`
	Description    string          `yaml:"description" mapstructure:"description"`
	Kind           string          `yaml:"kind" mapstructure:"kind"`
	Priority       int             `yaml:"priority" mapstructure:"priority"`
	Enabled        bool            `yaml:"enabled" mapstructure:"enabled"`
	DataQuality    float64         `yaml:"data_quality" mapstructure:"data_quality"`
	EstimatedCount int             `yaml:"estimated_count" mapstructure:"estimated_count"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	URL        string            `yaml:"url" mapstructure:"url"`
	Format     string            `yaml:"format" mapstructure:"format"`
	RecordsKey string            `yaml:"records_key" mapstructure:"records_key"`
	Headers    map[string]string `yaml:"headers" mapstructure:"headers"`
	Sheet      string            `yaml:"sheet" mapstructure:"sheet"`

	NotionDatabase string `yaml:"notion_database" mapstructure:"notion_database"`
	NotionToken    string `yaml:"notion_token" mapstructure:"notion_token"`

	IDField      string `yaml:"id_field" mapstructure:"id_field"`
	UpdatedField string `yaml:"updated_field" mapstructure:"updated_field"`
}

// Limit converts the configured budget to a limiter setting.
func (s SourceConfig) Limit() ratelimit.Limit {
	return ratelimit.Limit{
		Requests: s.RateLimit.Requests,
		Window:   time.Duration(s.RateLimit.WindowMs) * time.Millisecond,
	}
}

// Configured reports whether the source has a location to read from.
func (s SourceConfig) Configured() bool {
	if s.Kind == "notion" {
		return s.NotionDatabase != ""
	}
	return s.URL != ""
}

// SourceIDs returns the configured source ids, sorted.
func (c *Config) SourceIDs() []string {
	ids := make([]string, 0, len(c.Sources))
	for id := range c.Sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// FoundedYearPolicy returns the validated founded-year policy.
func (c *Config) FoundedYearPolicy() (merge.FoundedYearPolicy, error) {
	return merge.ParseFoundedYearPolicy(c.Merge.FoundedYearPolicy)
}

// Bands returns the merge bands, with defaults for unset values.
func (c *Config) Bands() merge.Bands {
	b := merge.DefaultBands()
	if c.Merge.Bands.AutoMerge > 0 {
		b.AutoMerge = c.Merge.Bands.AutoMerge
	}
	if c.Merge.Bands.Merge > 0 {
		b.Merge = c.Merge.Bands.Merge
	}
	if c.Merge.Bands.Review > 0 {
		b.Review = c.Merge.Bands.Review
	}
	return b
}

// RetryPolicy returns the retry settings for source and store calls.
func (c *Config) RetryPolicy() resilience.RetryConfig {
	return resilience.NewRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
}

// BreakerPolicy returns the circuit breaker settings.
func (c *Config) BreakerPolicy() resilience.BreakerConfig {
	return resilience.NewBreakerConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)
}

// Validate checks values Load cannot default.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.Ingest.MaxConcurrentJobs < 1 {
		return eris.Errorf("config: ingest.max_concurrent_jobs must be at least 1, got %d", c.Ingest.MaxConcurrentJobs)
	}
	if _, err := c.FoundedYearPolicy(); err != nil {
		return eris.Wrap(err, "config")
	}
	w := c.Scorer.Weights
	if w.Name < 0 || w.Website < 0 || w.Catalog < 0 || w.Location < 0 || w.Founded < 0 {
		return eris.New("config: scorer weights must not be negative")
	}
	if w.Name+w.Website+w.Catalog+w.Location+w.Founded <= 0 {
		return eris.New("config: scorer weights must not all be zero")
	}
	for _, id := range c.SourceIDs() {
		s := c.Sources[id]
		if s.Priority < 0 {
			return eris.Errorf("config: source %s: priority must not be negative", id)
		}
		if s.RateLimit.Requests < 0 || s.RateLimit.WindowMs < 0 {
			return eris.Errorf("config: source %s: rate limit must not be negative", id)
		}
		if s.DataQuality < 0 || s.DataQuality > 1 {
			return eris.Errorf("config: source %s: data_quality must be within [0, 1]", id)
		}
	}
	return nil
}

type sourceDefault struct {
	id, name    string
	kind        string
	priority    int
	quality     float64
	requests    int
	windowMs    int
	enabled     bool
	url         string
	description string
}

// defaultSources ranks curated data above reference databases, storefronts
// and crawled repositories.
var defaultSources = []sourceDefault{
	{id: "manual", name: "Manual entries", kind: "curated", priority: 100, quality: 0.95, enabled: true, url: "data/curated.yaml", description: "Hand-curated studio list"},
	{id: "igdb", name: "IGDB", kind: "feed", priority: 80, quality: 0.85, requests: 4, windowMs: 1000, description: "IGDB company export"},
	{id: "wikidata", name: "Wikidata", kind: "feed", priority: 70, quality: 0.8, requests: 30, windowMs: 60000, description: "Wikidata video game developer dump"},
	{id: "wikipedia", name: "Wikipedia", kind: "feed", priority: 60, quality: 0.7, requests: 50, windowMs: 60000, description: "Wikipedia developer list export"},
	{id: "steam", name: "Steam", kind: "feed", priority: 50, quality: 0.65, requests: 200, windowMs: 300000, description: "Steam storefront developer export"},
	{id: "github", name: "GitHub", kind: "feed", priority: 40, quality: 0.5, requests: 60, windowMs: 3600000, description: "Crawled GitHub organisation data"},
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "studio-catalog.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("ingest.max_concurrent_jobs", 4)
	v.SetDefault("ingest.shutdown_timeout_secs", 30)

	sc := similarity.DefaultConfig()
	v.SetDefault("scorer.weights.name", sc.Weights.Name)
	v.SetDefault("scorer.weights.website", sc.Weights.Website)
	v.SetDefault("scorer.weights.catalog", sc.Weights.Catalog)
	v.SetDefault("scorer.weights.location", sc.Weights.Location)
	v.SetDefault("scorer.weights.founded", sc.Weights.Founded)
	v.SetDefault("scorer.thresholds.exact_name", sc.Thresholds.ExactName)
	v.SetDefault("scorer.thresholds.fuzzy_name", sc.Thresholds.FuzzyName)
	v.SetDefault("scorer.thresholds.website", sc.Thresholds.Website)
	v.SetDefault("scorer.thresholds.catalog_overlap", sc.Thresholds.CatalogOverlap)
	v.SetDefault("scorer.thresholds.location", sc.Thresholds.Location)
	v.SetDefault("scorer.thresholds.minimum", sc.Thresholds.Minimum)

	bands := merge.DefaultBands()
	v.SetDefault("merge.founded_year_policy", string(merge.FoundedPreferCandidate))
	v.SetDefault("merge.bands.auto_merge", bands.AutoMerge)
	v.SetDefault("merge.bands.merge", bands.Merge)
	v.SetDefault("merge.bands.review", bands.Review)

	v.SetDefault("fetch.user_agent", "studio-catalog/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.host_rate", 10)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("notion.token", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.review_backlog_threshold", 100)

	for _, s := range defaultSources {
		prefix := "sources." + s.id + "."
		v.SetDefault(prefix+"name", s.name)
		v.SetDefault(prefix+"description", s.description)
		v.SetDefault(prefix+"kind", s.kind)
		v.SetDefault(prefix+"priority", s.priority)
		v.SetDefault(prefix+"enabled", s.enabled)
		v.SetDefault(prefix+"data_quality", s.quality)
		v.SetDefault(prefix+"rate_limit.requests", s.requests)
		v.SetDefault(prefix+"rate_limit.window_ms", s.windowMs)
		v.SetDefault(prefix+"url", s.url)
		v.SetDefault(prefix+"format", "")
		v.SetDefault(prefix+"records_key", "")
		v.SetDefault(prefix+"notion_database", "")
		v.SetDefault(prefix+"notion_token", "")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	for id, s := range cfg.Sources {
		if s.Name == "" {
			s.Name = id
		}
		if s.NotionToken == "" {
			s.NotionToken = cfg.Notion.Token
		}
		cfg.Sources[id] = s
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
