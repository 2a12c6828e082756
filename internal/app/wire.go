package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/snipekit/sniperbot/internal/blob/s3"
	"github.com/snipekit/sniperbot/internal/cache/redis"
	"github.com/snipekit/sniperbot/internal/config"
	"github.com/snipekit/sniperbot/internal/domain"
	"github.com/snipekit/sniperbot/internal/notify"
	"github.com/snipekit/sniperbot/internal/platform/tokendata"
	"github.com/snipekit/sniperbot/internal/platform/tradeengine"
	"github.com/snipekit/sniperbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	SniperStore   domain.SniperStore
	WalletStore   domain.WalletStore
	PositionStore domain.PositionStore

	// Cache / coordination
	LockManager  domain.LockManager
	RateLimiter  domain.RateLimiter
	JobQueue     domain.JobQueue
	BalanceCache domain.BalanceCache

	// Platform clients
	Analyzer domain.TokenAnalyzer
	Prices   domain.PriceSource
	Trader   domain.TradeExecutor

	// Cold storage. Nil unless archiving is enabled.
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
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

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.SniperStore = postgres.NewSniperStore(pool)
	deps.WalletStore = postgres.NewWalletStore(pool)
	positionStore := postgres.NewPositionStore(pool)
	deps.PositionStore = positionStore

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

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.JobQueue = redis.NewJobQueue(redisClient)

	// --- Platform clients ---
	tokenClient := tokendata.NewClient(cfg.TokenData.BaseURL, cfg.TokenData.APIKey)
	deps.Analyzer = tokenClient
	deps.Prices = tokenClient

	tradeClient := tradeengine.NewClient(
		cfg.TradeEngine.BaseURL,
		cfg.TradeEngine.APIKey,
		cfg.TradeEngine.SigningSecret,
	)
	deps.Trader = tradeClient
	deps.BalanceCache = redis.NewBalanceCache(redisClient, tradeClient, cfg.Worker.BalanceCacheTTL.Duration)

	// --- Cold storage ---
	if cfg.Archive.Enabled {
		blobClient, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 archive: %w", err)
		}
		deps.Archiver = s3blob.NewPositionArchiver(s3blob.NewWriter(blobClient), positionStore)
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
	closers = append(closers, deps.Notifier.Wait)

	return deps, cleanup, nil
}
