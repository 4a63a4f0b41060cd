// Package config defines the positionbot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by POSBOT_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Store        StoreConfig        `toml:"store"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Kafka        KafkaConfig        `toml:"kafka"`
	Ledger       LedgerConfig       `toml:"ledger"`
	Venue        VenueConfig        `toml:"venue"`
	Binance      BinanceConfig      `toml:"binance"`
	Paper        PaperConfig        `toml:"paper"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Classifier   ClassifierConfig   `toml:"classifier"`
	Archive      ArchiveConfig      `toml:"archive"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
}

// StoreConfig selects the position store: "file" (JSON document) or
// "postgres".
type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN wins over the
// individual parts when set.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the price cache,
// per-symbol locks, the signal bus and the API rate limiter.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen caps the intents stream.
	StreamMaxLen int `toml:"stream_max_len"`
}

type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	// StatusEvents declares that downstream consumers apply status_update
	// events, which puts the ledger in its full tier.
	StatusEvents bool `toml:"status_events"`
}

// LedgerConfig selects the external ledger sink: "none", "memory",
// "postgres" or "kafka".
type LedgerConfig struct {
	Sink    string   `toml:"sink"`
	Timeout duration `toml:"timeout"`
}

// VenueConfig selects the execution venue: "paper" or "binance".
type VenueConfig struct {
	Name    string   `toml:"name"`
	Timeout duration `toml:"timeout"`
}

type BinanceConfig struct {
	APIKey         string   `toml:"api_key"`
	APISecret      string   `toml:"api_secret"`
	SpotBaseURL    string   `toml:"spot_base_url"`
	FuturesBaseURL string   `toml:"futures_base_url"`
	RecvWindow     int      `toml:"recv_window"`
	HTTPTimeout    duration `toml:"http_timeout"`
}

type PaperConfig struct {
	// MaxPriceAge rejects cached reference prices older than this; zero
	// accepts any age.
	MaxPriceAge duration `toml:"max_price_age"`
}

type OrchestratorConfig struct {
	// AutoTrade routes worker intents through the venue instead of tracking
	// them directly.
	AutoTrade         bool            `toml:"auto_trade"`
	NotionalThreshold decimal.Decimal `toml:"notional_threshold"`
	DedupTTL          duration        `toml:"dedup_ttl"`
}

type ClassifierConfig struct {
	VocabularyFile string `toml:"vocabulary_file"`
	DefaultQuote   string `toml:"default_quote"`
}

type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	APIKey       string   `toml:"api_key"`
	CORSOrigins  []string `toml:"cors_origins"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
}

// NotifyConfig holds notification channel credentials. Events filters which
// event names are delivered; empty means all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs the API against a local JSON
// store and the paper venue with no external services.
func Defaults() Config {
	return Config{
		Mode:     "api",
		LogLevel: "info",
		Store: StoreConfig{
			Backend: "file",
			Path:    "data/positions.json",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "positionbot-archive",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Topic: "position-ledger",
		},
		Ledger: LedgerConfig{
			Sink:    "memory",
			Timeout: duration{5 * time.Second},
		},
		Venue: VenueConfig{
			Name:    "paper",
			Timeout: duration{15 * time.Second},
		},
		Binance: BinanceConfig{
			SpotBaseURL:    "https://api.binance.com",
			FuturesBaseURL: "https://fapi.binance.com",
			RecvWindow:     5000,
			HTTPTimeout:    duration{10 * time.Second},
		},
		Paper: PaperConfig{
			MaxPriceAge: duration{time.Minute},
		},
		Orchestrator: OrchestratorConfig{
			NotionalThreshold: decimal.NewFromInt(100),
			DedupTTL:          duration{10 * time.Minute},
		},
		Classifier: ClassifierConfig{
			DefaultQuote: "USDT",
		},
		Archive: ArchiveConfig{
			Interval:  duration{24 * time.Hour},
			Retention: duration{30 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"*"},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{30 * time.Second},
		},
	}
}

var (
	validModes     = []string{"api", "worker", "full"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validStores    = []string{"file", "postgres"}
	validSinks     = []string{"none", "memory", "postgres", "kafka"}
	validVenues    = []string{"paper", "binance"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !oneOf(c.Mode, validModes) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !oneOf(strings.ToLower(c.LogLevel), validLogLevels) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch {
	case !oneOf(c.Store.Backend, validStores):
		add("store: unknown backend %q (valid: %s)", c.Store.Backend, strings.Join(validStores, ", "))
	case c.Store.Backend == "file" && c.Store.Path == "":
		add("store: path must not be empty for the file backend")
	}

	if c.Store.Backend == "postgres" || c.Ledger.Sink == "postgres" {
		if c.Postgres.DSN == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}
	if c.Mode != "api" && !c.Redis.Enabled {
		add("redis: must be enabled for mode %s (intents stream)", c.Mode)
	}

	if !oneOf(c.Ledger.Sink, validSinks) {
		add("ledger: unknown sink %q (valid: %s)", c.Ledger.Sink, strings.Join(validSinks, ", "))
	}
	if c.Ledger.Sink == "kafka" {
		if len(c.Kafka.Brokers) == 0 {
			add("kafka: brokers must not be empty when ledger.sink is kafka")
		}
		if c.Kafka.Topic == "" {
			add("kafka: topic must not be empty when ledger.sink is kafka")
		}
	}

	if !oneOf(c.Venue.Name, validVenues) {
		add("venue: unknown name %q (valid: %s)", c.Venue.Name, strings.Join(validVenues, ", "))
	}
	if c.Venue.Timeout.Duration <= 0 {
		add("venue: timeout must be > 0")
	}
	if c.Venue.Name == "binance" && (c.Binance.APIKey == "" || c.Binance.APISecret == "") {
		add("binance: api_key and api_secret are required for venue binance")
	}

	if !c.Orchestrator.NotionalThreshold.IsPositive() {
		add("orchestrator: notional_threshold must be > 0")
	}

	if c.Archive.Enabled {
		if !c.S3.Enabled {
			add("archive: requires s3.enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
		if c.Archive.Retention.Duration < 0 {
			add("archive: retention must be >= 0")
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if c.Mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
