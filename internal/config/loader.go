package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load merges the TOML file at path over Defaults and applies POSBOT_*
// environment overrides. An empty path skips the file. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and toggles at deploy time
// without editing the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "POSBOT_MODE")
	setStr(&cfg.LogLevel, "POSBOT_LOG_LEVEL")

	// ── Store ──
	setStr(&cfg.Store.Backend, "POSBOT_STORE_BACKEND")
	setStr(&cfg.Store.Path, "POSBOT_STORE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POSBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POSBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POSBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POSBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POSBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "POSBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POSBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POSBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POSBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "POSBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POSBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POSBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POSBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POSBOT_S3_FORCE_PATH_STYLE")

	// ── Kafka / ledger ──
	setStringSlice(&cfg.Kafka.Brokers, "POSBOT_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "POSBOT_KAFKA_TOPIC")
	setBool(&cfg.Kafka.StatusEvents, "POSBOT_KAFKA_STATUS_EVENTS")
	setStr(&cfg.Ledger.Sink, "POSBOT_LEDGER_SINK")
	setDuration(&cfg.Ledger.Timeout, "POSBOT_LEDGER_TIMEOUT")

	// ── Venue ──
	setStr(&cfg.Venue.Name, "POSBOT_VENUE_NAME")
	setDuration(&cfg.Venue.Timeout, "POSBOT_VENUE_TIMEOUT")
	setStr(&cfg.Binance.APIKey, "POSBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.APISecret, "POSBOT_BINANCE_API_SECRET")
	setStr(&cfg.Binance.SpotBaseURL, "POSBOT_BINANCE_SPOT_BASE_URL")
	setStr(&cfg.Binance.FuturesBaseURL, "POSBOT_BINANCE_FUTURES_BASE_URL")
	setDuration(&cfg.Paper.MaxPriceAge, "POSBOT_PAPER_MAX_PRICE_AGE")

	// ── Orchestrator ──
	setBool(&cfg.Orchestrator.AutoTrade, "POSBOT_ORCHESTRATOR_AUTO_TRADE")
	setDecimal(&cfg.Orchestrator.NotionalThreshold, "POSBOT_ORCHESTRATOR_NOTIONAL_THRESHOLD")
	setDuration(&cfg.Orchestrator.DedupTTL, "POSBOT_ORCHESTRATOR_DEDUP_TTL")

	setStr(&cfg.Classifier.VocabularyFile, "POSBOT_CLASSIFIER_VOCABULARY_FILE")
	setStr(&cfg.Classifier.DefaultQuote, "POSBOT_CLASSIFIER_DEFAULT_QUOTE")

	setBool(&cfg.Archive.Enabled, "POSBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "POSBOT_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "POSBOT_ARCHIVE_RETENTION")

	// ── Server ──
	setInt(&cfg.Server.Port, "POSBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POSBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POSBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "POSBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POSBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POSBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POSBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POSBOT_NOTIFY_EVENTS")
}

// Typed setters only touch dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
