// Package config defines the top-level configuration for tradewatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEWATCH_* environment variables.
type Config struct {
	Tracker  TrackerConfig  `toml:"tracker"`
	Feed     FeedConfig     `toml:"feed"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Policy   PolicyConfig   `toml:"policy"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// TrackerConfig controls exit evaluation and persistence of the active set.
type TrackerConfig struct {
	FlushInterval duration `toml:"flush_interval"`
	// TrailingMode is "static" or "ratchet".
	TrailingMode string `toml:"trailing_mode"`
	// ExitAt is "level" or "tick".
	ExitAt string `toml:"exit_at"`
}

// FeedConfig selects the price source.
type FeedConfig struct {
	// Driver is "sim", "redis" or "ws".
	Driver        string   `toml:"driver"`
	SimInterval   duration `toml:"sim_interval"`
	WSURL         string   `toml:"ws_url"`
	ChannelPrefix string   `toml:"channel_prefix"`
}

// StorageConfig selects the durable key-value backend.
type StorageConfig struct {
	// Driver is "sqlite", "postgres", "redis" or "memory".
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// Configured reports whether any connection target is set.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.DSN) != "" || strings.TrimSpace(p.Host) != ""
}

// RedisConfig holds Redis connection parameters. Redis is optional; an empty
// Addr disables it.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen caps the delivery-log stream.
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls archiving of closed positions to S3.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Prefix  string `toml:"prefix"`
}

// PolicyConfig tunes notification delivery.
type PolicyConfig struct {
	// QuietHoursBypass is the lowest severity delivered during quiet hours.
	QuietHoursBypass string   `toml:"quiet_hours_bypass"`
	LegacyQuietHours bool     `toml:"legacy_quiet_hours"`
	BatchInterval    duration `toml:"batch_interval"`
	QueueSize        int      `toml:"queue_size"`
	SendTimeout      duration `toml:"send_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken      string   `toml:"telegram_token"`
	TelegramChatID     string   `toml:"telegram_chat_id"`
	DiscordWebhookURL  string   `toml:"discord_webhook_url"`
	FCMCredentialsFile string   `toml:"fcm_credentials_file"`
	FCMCredentialsJSON string   `toml:"fcm_credentials_json"`
	FCMDeviceTokens    []string `toml:"fcm_device_tokens"`
	FCMChannelID       string   `toml:"fcm_channel_id"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Tracker: TrackerConfig{
			FlushInterval: duration{time.Second},
			TrailingMode:  "static",
			ExitAt:        "level",
		},
		Feed: FeedConfig{
			Driver:        "sim",
			SimInterval:   duration{time.Second},
			ChannelPrefix: "prices:",
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "data/tradewatch.db",
			KeyPrefix:  "tradewatch:",
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradewatch",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Prefix:  "positions",
		},
		Policy: PolicyConfig{
			QuietHoursBypass: "high",
			BatchInterval:    duration{5 * time.Minute},
			QueueSize:        256,
			SendTimeout:      duration{15 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var (
	validModes         = map[string]bool{"monitor": true, "full": true}
	validLogLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFeedDrivers   = map[string]bool{"sim": true, "redis": true, "ws": true}
	validStoreDrivers  = map[string]bool{"sqlite": true, "postgres": true, "redis": true, "memory": true}
	validTrailingModes = map[string]bool{"static": true, "ratchet": true}
	validExitAt        = map[string]bool{"level": true, "tick": true}
	validSeverities    = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Tracker
	if c.Tracker.FlushInterval.Duration <= 0 {
		errs = append(errs, "tracker: flush_interval must be > 0")
	}
	if !validTrailingModes[c.Tracker.TrailingMode] {
		errs = append(errs, fmt.Sprintf("tracker: trailing_mode must be static or ratchet, got %q", c.Tracker.TrailingMode))
	}
	if !validExitAt[c.Tracker.ExitAt] {
		errs = append(errs, fmt.Sprintf("tracker: exit_at must be level or tick, got %q", c.Tracker.ExitAt))
	}

	// Feed
	if !validFeedDrivers[c.Feed.Driver] {
		errs = append(errs, fmt.Sprintf("feed: unknown driver %q (valid: sim, redis, ws)", c.Feed.Driver))
	}
	switch c.Feed.Driver {
	case "sim":
		if c.Feed.SimInterval.Duration <= 0 {
			errs = append(errs, "feed: sim_interval must be > 0")
		}
	case "ws":
		if c.Feed.WSURL == "" {
			errs = append(errs, "feed: ws_url is required for the ws driver")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "feed: redis driver requires redis.addr")
		}
	}

	// Storage
	if !validStoreDrivers[c.Storage.Driver] {
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: sqlite, postgres, redis, memory)", c.Storage.Driver))
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, "storage: sqlite_path must not be empty")
		}
	case "postgres":
		if !c.Postgres.Configured() {
			errs = append(errs, "storage: postgres driver requires postgres.dsn or postgres.host")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "storage: redis driver requires redis.addr")
		}
	}

	// Postgres
	if c.Postgres.Configured() && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be within 0..pool_max_conns")
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive / S3
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
	}

	// Policy
	if !validSeverities[c.Policy.QuietHoursBypass] {
		errs = append(errs, fmt.Sprintf("policy: quiet_hours_bypass must be a severity, got %q", c.Policy.QuietHoursBypass))
	}
	if c.Policy.BatchInterval.Duration <= 0 {
		errs = append(errs, "policy: batch_interval must be > 0")
	}
	if c.Policy.QueueSize < 1 {
		errs = append(errs, "policy: queue_size must be >= 1")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if len(c.Notify.FCMDeviceTokens) > 0 && c.Notify.FCMCredentialsFile == "" && c.Notify.FCMCredentialsJSON == "" {
		errs = append(errs, "notify: fcm_device_tokens require fcm_credentials_file or fcm_credentials_json")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
