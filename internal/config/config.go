// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MaxAttempts bounds queue.attempts so the doubling retry backoff stays finite.
const MaxAttempts = 10

// Archive modes accepted by storage.archive.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Publisher modes accepted by pubsub.publisher.
const (
	PublisherPubSub = "pubsub"
	PublisherMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Queue   QueueConfig   `mapstructure:"queue"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

// AuthConfig guards the API with HTTP basic auth.
type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CORSConfig controls cross-origin access. Origin is "*" or a comma-separated
// list of allowed origins.
type CORSConfig struct {
	Origin      string `mapstructure:"origin"`
	Credentials bool   `mapstructure:"credentials"`
}

// FetchConfig governs page retrieval.
type FetchConfig struct {
	TimeoutMs    int     `mapstructure:"timeout_ms"`
	UserAgent    string  `mapstructure:"user_agent"`
	RatePerHost  float64 `mapstructure:"rate_per_host"`
	BurstPerHost int     `mapstructure:"burst_per_host"`
}

// ScrapeConfig bounds requests and controls cache freshness.
type ScrapeConfig struct {
	MaxURLs           int `mapstructure:"max_urls"`
	CacheValidityDays int `mapstructure:"cache_validity_days"`
}

// QueueConfig sizes the job queue and worker pool.
type QueueConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	Depth              int           `mapstructure:"depth"`
	Attempts           int           `mapstructure:"attempts"`
	BackoffMs          int           `mapstructure:"backoff_ms"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
	FailedRetention    time.Duration `mapstructure:"failed_retention"`
	RemoveOnComplete   int           `mapstructure:"remove_on_complete"`
	RemoveOnFail       int           `mapstructure:"remove_on_fail"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects where raw page bodies are archived.
type StorageConfig struct {
	Archive   string `mapstructure:"archive"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for job completion notifications. The memory
// publisher keeps events in process and needs only a topic name.
type PubSubConfig struct {
	Publisher string `mapstructure:"publisher"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional .env file, the environment, and an
// optional YAML file at path.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	cfg.Storage.Archive = strings.ToLower(strings.TrimSpace(cfg.Storage.Archive))
	cfg.PubSub.Publisher = strings.ToLower(strings.TrimSpace(cfg.PubSub.Publisher))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv applies KEY=VALUE pairs from file without overriding variables
// already set. A missing file is not an error.
func loadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.environment", "development")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("cors.origin", "*")
	v.SetDefault("cors.credentials", false)
	v.SetDefault("fetch.timeout_ms", 10000)
	v.SetDefault("fetch.user_agent", "media-scraper/1.0")
	v.SetDefault("fetch.rate_per_host", 0)
	v.SetDefault("fetch.burst_per_host", 1)
	v.SetDefault("scrape.max_urls", 10)
	v.SetDefault("scrape.cache_validity_days", 7)
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff_ms", 2000)
	v.SetDefault("queue.completed_retention", 24*time.Hour)
	v.SetDefault("queue.failed_retention", 7*24*time.Hour)
	v.SetDefault("queue.remove_on_complete", 100)
	v.SetDefault("queue.remove_on_fail", 50)
	v.SetDefault("queue.cleanup_interval", time.Duration(0))
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("storage.archive", ArchiveNone)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "archive")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("pubsub.publisher", PublisherPubSub)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && (c.Auth.Username == "" || c.Auth.Password == "") {
		return fmt.Errorf("auth.username and auth.password must be set when auth is enabled")
	}
	if c.Fetch.TimeoutMs <= 0 {
		return fmt.Errorf("fetch.timeout_ms must be > 0")
	}
	if c.Fetch.RatePerHost < 0 {
		return fmt.Errorf("fetch.rate_per_host must be >= 0")
	}
	if c.Scrape.MaxURLs <= 0 {
		return fmt.Errorf("scrape.max_urls must be > 0")
	}
	if c.Scrape.CacheValidityDays <= 0 {
		return fmt.Errorf("scrape.cache_validity_days must be > 0")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be > 0")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Queue.Attempts <= 0 || c.Queue.Attempts > MaxAttempts {
		return fmt.Errorf("queue.attempts must be between 1 and %d", MaxAttempts)
	}
	if c.Queue.BackoffMs < 0 {
		return fmt.Errorf("queue.backoff_ms must be >= 0")
	}
	if c.DB.MinConns > c.DB.MaxConns {
		return fmt.Errorf("db.min_conns must not exceed db.max_conns")
	}
	switch c.Storage.Archive {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.archive is local")
		}
	case ArchiveGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.archive is gcs")
		}
	default:
		return fmt.Errorf("storage.archive must be one of none, memory, local, gcs (got %q)", c.Storage.Archive)
	}
	if strings.TrimSpace(c.CORS.Origin) == "" {
		return fmt.Errorf("cors.origin must be set")
	}
	switch c.PubSub.Publisher {
	case PublisherPubSub:
		if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
		}
	case PublisherMemory:
		if c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.topic_name must be set when pubsub.publisher is memory")
		}
	default:
		return fmt.Errorf("pubsub.publisher must be one of pubsub, memory (got %q)", c.PubSub.Publisher)
	}
	return nil
}

// AllowedOrigins splits cors.origin into its entries.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORS.Origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// FetchTimeout returns the per-page fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}

// CacheValidity returns how long a stored page is served without refetching.
func (c Config) CacheValidity() time.Duration {
	return time.Duration(c.Scrape.CacheValidityDays) * 24 * time.Hour
}

// Backoff returns the delay before the first job retry.
func (c Config) Backoff() time.Duration {
	return time.Duration(c.Queue.BackoffMs) * time.Millisecond
}
