package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tradewatch/internal/blob/s3"
	"github.com/alanyoungcy/tradewatch/internal/cache/redis"
	"github.com/alanyoungcy/tradewatch/internal/config"
	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/feed"
	"github.com/alanyoungcy/tradewatch/internal/notify"
	"github.com/alanyoungcy/tradewatch/internal/store/memory"
	"github.com/alanyoungcy/tradewatch/internal/store/postgres"
	"github.com/alanyoungcy/tradewatch/internal/store/sqlite"
)

// notificationLogStream is the Redis stream used as the delivery log when
// Postgres is not configured.
const notificationLogStream = "notification_log"

// Dependencies bundles every infrastructure dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Storage
	KV    domain.KVStore
	Audit domain.AuditStore // nil when neither Postgres nor Redis is wired

	// Redis (all nil when redis.addr is empty)
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Price source
	Feed    domain.PriceFeed
	SimFeed *feed.SimFeed // set when the sim driver is selected

	// Closed-position archive: Postgres history and/or S3 objects. Nil when
	// neither is wired.
	Archiver domain.PositionArchiver
	History  domain.PositionHistory

	// Notifications
	Notifier *notify.Notifier
}

// needsNotifications returns true for modes that deliver to external
// channels. Monitor mode keeps the policy decisions but sends nothing.
func needsNotifications(mode string) bool {
	return mode == "full"
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}
	var archivers multiArchiver

	// --- PostgreSQL (KV backend and/or audit log) ---
	var pgClient *postgres.Client
	if cfg.Postgres.Configured() {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())

		positions := postgres.NewPositionStore(pgClient.Pool())
		deps.History = positions
		archivers = append(archivers, positions)
	}

	// --- Redis (optional) ---
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.SignalBus = bus
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Storage.KeyPrefix)
		if deps.Audit == nil {
			deps.Audit = redis.NewAuditStream(bus, cfg.Storage.KeyPrefix+notificationLogStream)
		}
	}

	// --- KV backend ---
	switch cfg.Storage.Driver {
	case "sqlite":
		kv, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = kv.Close() })
		deps.KV = kv
	case "postgres":
		if pgClient == nil {
			return fail(fmt.Errorf("wire: storage driver postgres requires postgres config"))
		}
		deps.KV = postgres.NewKVStore(pgClient.Pool())
	case "redis":
		if redisClient == nil {
			return fail(fmt.Errorf("wire: storage driver redis requires redis.addr"))
		}
		deps.KV = redis.NewKVStore(redisClient, cfg.Storage.KeyPrefix)
	case "memory":
		deps.KV = memory.NewKVStore()
	default:
		return fail(fmt.Errorf("wire: unknown storage driver %q", cfg.Storage.Driver))
	}

	// --- Price feed ---
	switch cfg.Feed.Driver {
	case "sim":
		sim := feed.NewSimFeed(cfg.Feed.SimInterval.Duration)
		deps.Feed = sim
		deps.SimFeed = sim
	case "redis":
		if deps.SignalBus == nil {
			return fail(fmt.Errorf("wire: feed driver redis requires redis.addr"))
		}
		deps.Feed = feed.NewBusFeed(deps.SignalBus, cfg.Feed.ChannelPrefix, logger)
	case "ws":
		deps.Feed = feed.NewWSFeed(cfg.Feed.WSURL, logger)
	default:
		return fail(fmt.Errorf("wire: unknown feed driver %q", cfg.Feed.Driver))
	}

	// --- S3 archive (full mode only) ---
	if cfg.Archive.Enabled && cfg.Mode == "full" {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		archivers = append(archivers, s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Audit, cfg.Archive.Prefix))
	}
	switch len(archivers) {
	case 0:
	case 1:
		deps.Archiver = archivers[0]
	default:
		deps.Archiver = archivers
	}

	// --- Notifications ---
	var senders []notify.Sender
	if needsNotifications(cfg.Mode) {
		if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
			senders = append(senders, notify.NewTelegramSender(
				cfg.Notify.TelegramToken,
				cfg.Notify.TelegramChatID,
			))
		}
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
		if len(cfg.Notify.FCMDeviceTokens) > 0 {
			fcm, err := notify.NewFCMSender(ctx, notify.FCMConfig{
				CredentialsFile: cfg.Notify.FCMCredentialsFile,
				CredentialsJSON: cfg.Notify.FCMCredentialsJSON,
				DeviceTokens:    cfg.Notify.FCMDeviceTokens,
				ChannelID:       cfg.Notify.FCMChannelID,
			})
			if err != nil {
				return fail(fmt.Errorf("wire: fcm: %w", err))
			}
			senders = append(senders, fcm)
		}
	}
	deps.Notifier = notify.NewNotifier(senders, logger)

	logger.InfoContext(ctx, "wire: dependencies ready",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("feed", cfg.Feed.Driver),
		slog.Bool("redis", redisClient != nil),
		slog.Bool("postgres", pgClient != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Any("senders", deps.Notifier.Senders()),
	)

	return deps, cleanup, nil
}

// multiArchiver hands each position to every archiver and joins the errors.
type multiArchiver []domain.PositionArchiver

func (m multiArchiver) Archive(ctx context.Context, pos domain.Position) error {
	var errs []error
	for _, a := range m {
		if err := a.Archive(ctx, pos); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
