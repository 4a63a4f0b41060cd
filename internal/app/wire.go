package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/positionbot/internal/blob/s3"
	"github.com/alanyoungcy/positionbot/internal/cache/memory"
	"github.com/alanyoungcy/positionbot/internal/cache/redis"
	"github.com/alanyoungcy/positionbot/internal/classifier"
	"github.com/alanyoungcy/positionbot/internal/config"
	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/ledger"
	kafkaledger "github.com/alanyoungcy/positionbot/internal/ledger/kafka"
	"github.com/alanyoungcy/positionbot/internal/notify"
	"github.com/alanyoungcy/positionbot/internal/orchestrator"
	"github.com/alanyoungcy/positionbot/internal/server/handler"
	"github.com/alanyoungcy/positionbot/internal/service"
	"github.com/alanyoungcy/positionbot/internal/store/filestore"
	"github.com/alanyoungcy/positionbot/internal/store/postgres"
	"github.com/alanyoungcy/positionbot/internal/venue/binance"
	"github.com/alanyoungcy/positionbot/internal/venue/paper"
)

// symbolLockTTL bounds how long one symbol mutation may hold its lock.
const symbolLockTTL = 10 * time.Second

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore // nil without postgres

	// Caches
	PriceCache  domain.PriceCache  // in-process without redis
	RateLimiter domain.RateLimiter // nil without redis
	LockManager domain.LockManager // nil without redis
	SignalBus   domain.SignalBus

	// Ledger
	Ledger       *ledger.Writer // nil when ledger.sink is none
	LedgerReader domain.LedgerReader

	Venue    domain.Venue
	Archiver domain.Archiver // nil unless s3 and archive are enabled
	Notifier *notify.Notifier

	Classifier   *classifier.Classifier
	Positions    *service.PositionService
	Signals      *service.SignalService
	Orchestrator *orchestrator.Orchestrator

	// Checks feeds the health endpoint.
	Checks []handler.Checker
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{}

	// --- PostgreSQL (position store and/or ledger sink) ---
	var pgClient *postgres.Client
	if cfg.Store.Backend == "postgres" || cfg.Ledger.Sink == "postgres" {
		var err error
		pgClient, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.Checks = append(deps.Checks, handler.Checker{Name: "postgres", Check: pgClient.Ping})
	}

	// --- Position store ---
	switch cfg.Store.Backend {
	case "postgres":
		deps.PositionStore = postgres.NewPositionStore(pgClient.Pool())
	default:
		fs, err := filestore.Open(cfg.Store.Path)
		if err != nil {
			return fail("wire: file store: %w", err)
		}
		deps.PositionStore = fs
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		streamMaxLen := int64(10000)
		if cfg.Redis.StreamMaxLen > 0 {
			streamMaxLen = int64(cfg.Redis.StreamMaxLen)
		}
		deps.PriceCache = redis.NewPriceCache(redisClient, "")
		deps.RateLimiter = redis.NewRateLimiter(redisClient, "")
		deps.LockManager = redis.NewLockManager(redisClient, "")
		deps.SignalBus = redis.NewSignalBus(redisClient, streamMaxLen)
		deps.Checks = append(deps.Checks, handler.Checker{Name: "redis", Check: redisClient.Ping})
	} else {
		deps.PriceCache = memory.NewPriceCache()
		deps.SignalBus = memory.NewBus(cfg.Redis.StreamMaxLen)
	}

	// --- Ledger sink ---
	sink, closeSink, err := buildSink(cfg, pgClient)
	if err != nil {
		return fail("wire: ledger: %w", err)
	}
	if closeSink != nil {
		closers = append(closers, closeSink)
	}
	if sink != nil {
		w, err := ledger.New(ctx, sink, cfg.Ledger.Timeout.Duration, logger)
		if err != nil {
			// The position store stays the source of truth; keep serving with an
			// in-process ledger rather than refusing to start.
			logger.WarnContext(ctx, "wire: ledger probe failed, using in-memory ledger",
				slog.String("sink", sink.Name()),
				slog.String("error", err.Error()),
			)
			w, err = ledger.New(ctx, ledger.NewMemory(true), cfg.Ledger.Timeout.Duration, logger)
			if err != nil {
				return fail("wire: ledger fallback: %w", err)
			}
		}
		deps.Ledger = w
		deps.LedgerReader, _ = w.Reader()
	}
	journal := service.NewJournal(deps.Ledger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Venue ---
	switch cfg.Venue.Name {
	case "binance":
		deps.Venue = binance.New(binance.Config{
			APIKey:         cfg.Binance.APIKey,
			APISecret:      cfg.Binance.APISecret,
			SpotBaseURL:    cfg.Binance.SpotBaseURL,
			FuturesBaseURL: cfg.Binance.FuturesBaseURL,
			RecvWindow:     time.Duration(cfg.Binance.RecvWindow) * time.Millisecond,
			HTTPTimeout:    cfg.Binance.HTTPTimeout.Duration,
		}, logger)
	default:
		deps.Venue = paper.New(logger, paper.WithPriceCache(deps.PriceCache, cfg.Paper.MaxPriceAge.Duration))
	}

	// --- Classifier ---
	vocab := classifier.DefaultVocabulary()
	if cfg.Classifier.VocabularyFile != "" {
		extra, err := classifier.LoadVocabulary(cfg.Classifier.VocabularyFile)
		if err != nil {
			return fail("wire: classifier vocabulary: %w", err)
		}
		vocab = vocab.Merge(extra)
	}
	deps.Classifier = classifier.New(vocab, cfg.Classifier.DefaultQuote)

	// --- Services ---
	posOpts := []service.PositionOption{
		service.WithBus(deps.SignalBus),
		service.WithNotifier(deps.Notifier),
	}
	if deps.AuditStore != nil {
		posOpts = append(posOpts, service.WithAudit(deps.AuditStore))
	}
	if deps.LockManager != nil {
		posOpts = append(posOpts, service.WithSymbolLocks(deps.LockManager, symbolLockTTL))
	}
	deps.Positions = service.NewPositionService(deps.PositionStore, logger, posOpts...)
	deps.Signals = service.NewSignalService(deps.Classifier, deps.Positions, journal, deps.PriceCache,
		cfg.Orchestrator.NotionalThreshold, logger)

	deps.Orchestrator = orchestrator.New(deps.Venue, deps.Positions, orchestrator.Config{
		VenueTimeout:      cfg.Venue.Timeout.Duration,
		NotionalThreshold: cfg.Orchestrator.NotionalThreshold,
		DedupTTL:          cfg.Orchestrator.DedupTTL.Duration,
	}, logger,
		orchestrator.WithJournal(journal),
		orchestrator.WithNotifier(deps.Notifier),
		orchestrator.WithPriceCache(deps.PriceCache),
	)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Checks = append(deps.Checks, handler.Checker{Name: "s3", Check: s3Client.Health})
		if cfg.Archive.Enabled {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewStore(s3Client), deps.PositionStore, deps.AuditStore, logger)
		}
	}

	return deps, cleanup, nil
}

// buildSink returns the configured ledger sink, or nil for "none".
func buildSink(cfg *config.Config, pg *postgres.Client) (domain.LedgerSink, func(), error) {
	switch cfg.Ledger.Sink {
	case "none":
		return nil, nil, nil
	case "postgres":
		return postgres.NewLedgerStore(pg.Pool(), ""), nil, nil
	case "kafka":
		s, err := kafkaledger.New(kafkaledger.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			StatusEvents: cfg.Kafka.StatusEvents,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return ledger.NewMemory(true), nil, nil
	}
}
