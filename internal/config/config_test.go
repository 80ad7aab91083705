package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "sim", cfg.Feed.Driver)
	assert.Equal(t, time.Second, cfg.Tracker.FlushInterval.Duration)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradewatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[tracker]
flush_interval = "250ms"
trailing_mode = "ratchet"

[feed]
driver = "ws"
ws_url = "wss://prices.example.com/stream"

[policy]
batch_interval = "10m"
`), 0o600))

	t.Setenv("TRADEWATCH_TRACKER_EXIT_AT", "tick")
	t.Setenv("TRADEWATCH_SERVER_PORT", "9090")
	t.Setenv("TRADEWATCH_NOTIFY_FCM_DEVICE_TOKENS", "tok-a, tok-b,")
	t.Setenv("TRADEWATCH_NOTIFY_FCM_CREDENTIALS_FILE", "/etc/fcm.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracker.FlushInterval.Duration)
	assert.Equal(t, "ratchet", cfg.Tracker.TrailingMode)
	assert.Equal(t, "tick", cfg.Tracker.ExitAt)
	assert.Equal(t, "ws", cfg.Feed.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Policy.BatchInterval.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"tok-a", "tok-b"}, cfg.Notify.FCMDeviceTokens)
	assert.Equal(t, "sqlite", cfg.Storage.Driver, "untouched defaults survive")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Port, cfg.Server.Port)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[tracker\nflush_interval = 1s"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Tracker.TrailingMode = "sliding"
	cfg.Feed.Driver = "ws"
	cfg.Storage.Driver = "postgres"
	cfg.Policy.QuietHoursBypass = "urgent"
	cfg.Notify.TelegramToken = "token-only"
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"trailing_mode",
		"ws_url is required",
		"postgres driver requires",
		"quiet_hours_bypass",
		"telegram_token and telegram_chat_id",
		"bucket must not be empty",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://u:p@db/x"
	cfg.Notify.TelegramToken = "secret"
	cfg.Notify.FCMDeviceTokens = []string{"device"}
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, []string{"***"}, out.Notify.FCMDeviceTokens)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	assert.Equal(t, "secret", cfg.Notify.TelegramToken)
	assert.Equal(t, []string{"device"}, cfg.Notify.FCMDeviceTokens)
}
