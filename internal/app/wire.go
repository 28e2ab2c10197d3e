package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/scorepeers/settlement/internal/blob/s3"
	"github.com/scorepeers/settlement/internal/cache/redis"
	"github.com/scorepeers/settlement/internal/config"
	"github.com/scorepeers/settlement/internal/crypto"
	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/notify"
	"github.com/scorepeers/settlement/internal/server/handler"
	"github.com/scorepeers/settlement/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	UnitOfWork domain.UnitOfWork
	Contests   domain.ContestStore
	Props      domain.PropStore
	Ledger     domain.LedgerStore
	Audit      domain.AuditStore

	// Redis
	ContestCache domain.ContestCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Blob storage. All nil when s3 is disabled.
	Receipts *s3blob.ReceiptStore
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks by dependency name.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: map[string]handler.Pinger{}}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:              cfg.Postgres.DSN,
		Host:             cfg.Postgres.Host,
		Port:             cfg.Postgres.Port,
		Database:         cfg.Postgres.Database,
		User:             cfg.Postgres.User,
		Password:         cfg.Postgres.Password,
		SSLMode:          cfg.Postgres.SSLMode,
		MaxConns:         cfg.Postgres.PoolMaxConns,
		MinConns:         cfg.Postgres.PoolMinConns,
		StatementTimeout: cfg.Postgres.StatementTimeout.Duration,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Pingers["postgres"] = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.UnitOfWork = postgres.NewUnitOfWork(pool)
	deps.Contests = postgres.NewContestStore(pool)
	deps.Props = postgres.NewPropStore(pool)
	deps.Ledger = postgres.NewLedgerStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Pingers["redis"] = redisClient

	deps.ContestCache = redis.NewContestCache(redisClient, cfg.Redis.CacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))

	// --- S3 receipts and archive ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Pingers["s3"] = handler.PingFunc(s3Client.Health)

		key, err := crypto.LoadKey(cfg.Receipts.KeyConfig())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: receipt key: %w", err)
		}
		signer, err := crypto.NewReceiptSigner(key)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: receipt signer: %w", err)
		}
		logger.InfoContext(ctx, "receipt signing enabled", slog.String("key_id", signer.KeyID()))

		writer := s3blob.NewWriter(s3Client)
		deps.Receipts = s3blob.NewReceiptStore(writer, s3blob.NewReader(s3Client), signer)
		deps.Archiver = s3blob.NewLedgerArchiver(deps.Ledger, writer, deps.Audit, cfg.Archive.BatchSize)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
