package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradewatch/internal/config"
	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage.Driver = "memory"
	cfg.Feed.Driver = "sim"
	cfg.Feed.SimInterval.Duration = 10 * time.Millisecond
	cfg.Tracker.FlushInterval.Duration = time.Millisecond
	cfg.Server.Enabled = false
	cfg.Mode = "monitor"
	return &cfg
}

func TestWireMemory(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.KVStore{}, deps.KV)
	require.NotNil(t, deps.SimFeed)
	assert.Equal(t, deps.SimFeed, deps.Feed)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Audit)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.History)
	assert.Empty(t, deps.Notifier.Senders())
}

func TestWireMonitorModeSkipsSenders(t *testing.T) {
	cfg := memoryConfig()
	cfg.Notify.DiscordWebhookURL = "https://discord.example/webhook"

	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.Empty(t, deps.Notifier.Senders())

	cfg.Mode = "full"
	deps, cleanup2, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup2()
	assert.Equal(t, []string{"discord"}, deps.Notifier.Senders())
}

func TestWireRejectsMissingBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"redis feed without redis", func(c *config.Config) { c.Feed.Driver = "redis" }},
		{"redis storage without redis", func(c *config.Config) { c.Storage.Driver = "redis" }},
		{"postgres storage without postgres", func(c *config.Config) { c.Storage.Driver = "postgres" }},
		{"unknown storage", func(c *config.Config) { c.Storage.Driver = "etcd" }},
		{"unknown feed", func(c *config.Config) { c.Feed.Driver = "fix" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(cfg)
			_, _, err := Wire(context.Background(), cfg, testLogger())
			assert.Error(t, err)
		})
	}
}

func TestBuildComponentsRestoresState(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Feed.SimInterval.Duration = time.Hour
	deps, cleanup, err := Wire(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, deps.KV.Set(ctx, domain.KeyActivePositions, []byte(`[
		{"id":"p1","symbol":"EURUSD","side":"buy","entryPrice":1.1,"currentPrice":1.101,
		 "quantity":10000,"commission":0,"entryTime":"2026-10-19T08:00:00Z","status":"active"}
	]`)))
	require.NoError(t, deps.KV.Set(ctx, domain.KeyPreferences, []byte(`{"alertFrequency":"hourly","quietHours":{"enabled":false,"start":"22:00","end":"08:00"}}`)))

	a := New(cfg, testLogger())
	c := a.buildComponents(ctx, deps)
	defer c.tracker.Stop()
	defer c.alerts.Stop()

	active := c.tracker.ActivePositions()
	require.Len(t, active, 1)
	assert.Equal(t, "p1", active[0].ID)
	assert.InDelta(t, 10.0, active[0].UnrealizedPnL, 1e-6)
	assert.Equal(t, domain.FrequencyHourly, c.settings.Preferences().AlertFrequency)

	// The simulated walk for a restored symbol starts at its last price.
	price, ok := c.tracker.LastPrice("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 1.101, price)
}

func TestRunStopsOnCancel(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), testLogger())
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	a := New(memoryConfig(), testLogger())
	done := make(chan error, 1)
	go func() { done <- a.MonitorMode(ctx, deps) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

type recordingArchiver struct {
	err error
	ids []string
}

func (r *recordingArchiver) Archive(_ context.Context, pos domain.Position) error {
	r.ids = append(r.ids, pos.ID)
	return r.err
}

func TestMultiArchiver(t *testing.T) {
	ok := &recordingArchiver{}
	bad := &recordingArchiver{err: errors.New("bucket unavailable")}
	m := multiArchiver{bad, ok}

	err := m.Archive(context.Background(), domain.Position{ID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.Equal(t, []string{"p1"}, ok.ids, "a failing archiver does not stop the others")
	assert.Equal(t, []string{"p1"}, bad.ids)
}
