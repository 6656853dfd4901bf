// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/content-crawler/internal/crawler"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Sources SourcesConfig `mapstructure:"sources"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Export  ExportConfig  `mapstructure:"export"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// CrawlConfig tunes the orchestrator.
type CrawlConfig struct {
	// Timezone is the IANA zone canonical timestamps are rendered in.
	Timezone           string `mapstructure:"timezone"`
	IncrementalMaxScan int    `mapstructure:"incremental_max_scan"`
}

// SourcesConfig groups the per-platform settings. A source is configured
// when its account identifier is set.
type SourcesConfig struct {
	Qiita   QiitaConfig   `mapstructure:"qiita"`
	YouTube YouTubeConfig `mapstructure:"youtube"`
	Twitter TwitterConfig `mapstructure:"twitter"`
}

// QiitaConfig selects whose stocks are crawled.
type QiitaConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	UserID        string `mapstructure:"user_id"`
	AccessToken   string `mapstructure:"access_token"`
	PageSize      int    `mapstructure:"page_size"`
	SummaryLength int    `mapstructure:"summary_length"`
}

// YouTubeConfig selects the channel whose playlists are crawled.
type YouTubeConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	ChannelID string `mapstructure:"channel_id"`
	PageSize  int    `mapstructure:"page_size"`
}

// TwitterConfig selects whose liked tweets are crawled.
type TwitterConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	UserID      string `mapstructure:"user_id"`
	BearerToken string `mapstructure:"bearer_token"`
	PageSize    int    `mapstructure:"page_size"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	Migrate                bool   `mapstructure:"migrate"`
}

// BlobConfig selects where export artifacts are written.
type BlobConfig struct {
	Driver       string `mapstructure:"driver"`
	LocalDir     string `mapstructure:"local_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	GCSPrefix    string `mapstructure:"gcs_prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// ExportConfig controls artifact naming and the default sync export.
type ExportConfig struct {
	Prefix string `mapstructure:"prefix"`
	// OnSync, when set, exports every synced batch in this format.
	OnSync string `mapstructure:"on_sync"`
}

// PubSubConfig holds metadata for sync notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file, .env files and the environment.
// Environment variables use the CRAWLER_ prefix with dots replaced by
// underscores, e.g. CRAWLER_SOURCES_QIITA_ACCESS_TOKEN.
func Load(path string) (Config, error) {
	if err := loadEnvFiles(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config: %w", crawler.ErrConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %w", crawler.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadEnvFiles loads ENV_FILE when set, otherwise .env.local then .env.
// Variables already present in the environment win.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "content-crawler/0.1")
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("crawl.timezone", "UTC")
	v.SetDefault("crawl.incremental_max_scan", 0)
	v.SetDefault("sources.qiita.base_url", "https://qiita.com")
	v.SetDefault("sources.qiita.user_id", "")
	v.SetDefault("sources.qiita.access_token", "")
	v.SetDefault("sources.qiita.page_size", 100)
	v.SetDefault("sources.qiita.summary_length", 200)
	v.SetDefault("sources.youtube.base_url", "https://www.googleapis.com")
	v.SetDefault("sources.youtube.api_key", "")
	v.SetDefault("sources.youtube.channel_id", "")
	v.SetDefault("sources.youtube.page_size", 50)
	v.SetDefault("sources.twitter.base_url", "https://api.twitter.com")
	v.SetDefault("sources.twitter.user_id", "")
	v.SetDefault("sources.twitter.bearer_token", "")
	v.SetDefault("sources.twitter.page_size", 100)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.sqlite_path", "data/records.db")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "records")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 3600)
	v.SetDefault("db.migrate", true)
	v.SetDefault("blob.driver", DriverMemory)
	v.SetDefault("blob.local_dir", "exports")
	v.SetDefault("blob.gcs_bucket", "")
	v.SetDefault("blob.gcs_prefix", "")
	v.SetDefault("blob.cache_control", "")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("export.on_sync", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits. Every failure
// wraps crawler.ErrConfig.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0, "server.port must be > 0")
	check(c.HTTP.TimeoutSeconds > 0, "http.timeout_seconds must be > 0")
	check(c.Crawl.IncrementalMaxScan >= 0, "crawl.incremental_max_scan must be >= 0")
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	check(!c.Auth.Enabled || c.Auth.APIKey != "", "auth.api_key must be set when auth is enabled")

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		check(c.DB.DSN != "", "db.dsn is required for the postgres driver")
	case DriverSQLite:
		check(c.Storage.SQLitePath != "", "storage.sqlite_path is required for the sqlite driver")
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, postgres, sqlite", c.Storage.Driver))
	}

	switch c.Blob.Driver {
	case DriverMemory:
	case DriverLocal:
		check(c.Blob.LocalDir != "", "blob.local_dir is required for the local driver")
	case DriverGCS:
		check(c.Blob.GCSBucket != "", "blob.gcs_bucket is required for the gcs driver")
	default:
		errs = append(errs, fmt.Errorf("blob.driver %q is not one of memory, local, gcs", c.Blob.Driver))
	}

	if c.PubSub.Enabled {
		check(c.PubSub.ProjectID != "", "pubsub.project_id is required when pubsub is enabled")
		check(c.PubSub.TopicName != "", "pubsub.topic_name is required when pubsub is enabled")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", crawler.ErrConfig, errors.Join(errs...))
}

// Location resolves crawl.timezone.
func (c Config) Location() (*time.Location, error) {
	name := c.Crawl.Timezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("crawl.timezone %q: %w", name, err)
	}
	return loc, nil
}

// FetchTimeout converts http.timeout_seconds to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout is the budget of one API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
