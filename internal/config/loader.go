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
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEWATCH_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the defaults and
// environment apply. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Tracker ──
	setDuration(&cfg.Tracker.FlushInterval, "TRADEWATCH_TRACKER_FLUSH_INTERVAL")
	setStr(&cfg.Tracker.TrailingMode, "TRADEWATCH_TRACKER_TRAILING_MODE")
	setStr(&cfg.Tracker.ExitAt, "TRADEWATCH_TRACKER_EXIT_AT")

	// ── Feed ──
	setStr(&cfg.Feed.Driver, "TRADEWATCH_FEED_DRIVER")
	setDuration(&cfg.Feed.SimInterval, "TRADEWATCH_FEED_SIM_INTERVAL")
	setStr(&cfg.Feed.WSURL, "TRADEWATCH_FEED_WS_URL")
	setStr(&cfg.Feed.ChannelPrefix, "TRADEWATCH_FEED_CHANNEL_PREFIX")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "TRADEWATCH_STORAGE_DRIVER")
	setStr(&cfg.Storage.SQLitePath, "TRADEWATCH_STORAGE_SQLITE_PATH")
	setStr(&cfg.Storage.KeyPrefix, "TRADEWATCH_STORAGE_KEY_PREFIX")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADEWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEWATCH_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "TRADEWATCH_REDIS_STREAM_MAX_LEN")

	// ── S3 / Archive ──
	setStr(&cfg.S3.Endpoint, "TRADEWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEWATCH_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "TRADEWATCH_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "TRADEWATCH_ARCHIVE_PREFIX")

	// ── Policy ──
	setStr(&cfg.Policy.QuietHoursBypass, "TRADEWATCH_POLICY_QUIET_HOURS_BYPASS")
	setBool(&cfg.Policy.LegacyQuietHours, "TRADEWATCH_POLICY_LEGACY_QUIET_HOURS")
	setDuration(&cfg.Policy.BatchInterval, "TRADEWATCH_POLICY_BATCH_INTERVAL")
	setInt(&cfg.Policy.QueueSize, "TRADEWATCH_POLICY_QUEUE_SIZE")
	setDuration(&cfg.Policy.SendTimeout, "TRADEWATCH_POLICY_SEND_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.FCMCredentialsFile, "TRADEWATCH_NOTIFY_FCM_CREDENTIALS_FILE")
	setStr(&cfg.Notify.FCMCredentialsJSON, "TRADEWATCH_NOTIFY_FCM_CREDENTIALS_JSON")
	setStringSlice(&cfg.Notify.FCMDeviceTokens, "TRADEWATCH_NOTIFY_FCM_DEVICE_TOKENS")
	setStr(&cfg.Notify.FCMChannelID, "TRADEWATCH_NOTIFY_FCM_CHANNEL_ID")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADEWATCH_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEWATCH_MODE")
	setStr(&cfg.LogLevel, "TRADEWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
