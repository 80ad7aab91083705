package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/policy"
	"github.com/alanyoungcy/tradewatch/internal/store/memory"
)

type recordingDeliverer struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (r *recordingDeliverer) Deliver(_ context.Context, a domain.Alert) policy.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return policy.OutcomeDelivered
}

func newTestDispatcher(kv domain.KVStore, del Deliverer) *Dispatcher {
	return NewDispatcher(kv, del, Config{FlushDelay: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func position() domain.Position {
	return domain.Position{
		ID:                   "p1",
		Symbol:               "EURUSD",
		Side:                 domain.SideBuy,
		EntryPrice:           1.1,
		CurrentPrice:         1.105,
		UnrealizedPnL:        50,
		UnrealizedPnLPercent: 0.45454545,
	}
}

func TestRaiseDeliversWithMetadata(t *testing.T) {
	del := &recordingDeliverer{}
	d := newTestDispatcher(memory.NewKVStore(), del)

	a := d.Raise(context.Background(), position(), domain.AlertTakeProfitHit, "Take Profit Hit!", "closed", "")

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, domain.SeverityHigh, a.Severity)
	assert.Equal(t, "p1", a.PositionID)
	assert.Equal(t, "50", a.Metadata["pnl"])
	assert.Equal(t, "1.105", a.Metadata["price"])
	require.Len(t, del.alerts, 1)
	assert.Equal(t, a.ID, del.alerts[0].ID)
}

func TestDefaultSeverity(t *testing.T) {
	assert.Equal(t, domain.SeverityHigh, DefaultSeverity(domain.AlertStopLossHit))
	assert.Equal(t, domain.SeverityMedium, DefaultSeverity(domain.AlertTrailingMoved))
	assert.Equal(t, domain.SeverityMedium, DefaultSeverity(domain.AlertPnLThreshold))
}

func TestHistoryEvictsOldest(t *testing.T) {
	d := newTestDispatcher(memory.NewKVStore(), nil)
	ctx := context.Background()

	first := d.Raise(ctx, position(), domain.AlertPrice, "t0", "m", "")
	for i := 1; i <= MaxHistory; i++ {
		d.Raise(ctx, position(), domain.AlertPrice, fmt.Sprintf("t%d", i), "m", "")
	}

	h := d.History()
	require.Len(t, h, MaxHistory)
	assert.Equal(t, "t1", h[0].Title)
	assert.Equal(t, fmt.Sprintf("t%d", MaxHistory), h[len(h)-1].Title)
	assert.ErrorIs(t, d.Acknowledge(ctx, first.ID), domain.ErrNotFound)
}

func TestIDsSortInCreationOrder(t *testing.T) {
	d := newTestDispatcher(memory.NewKVStore(), nil)
	a := d.Raise(context.Background(), position(), domain.AlertPrice, "a", "m", "")
	b := d.Raise(context.Background(), position(), domain.AlertPrice, "b", "m", "")
	assert.Less(t, a.ID, b.ID)
}

func TestAcknowledge(t *testing.T) {
	d := newTestDispatcher(memory.NewKVStore(), nil)
	ctx := context.Background()
	a := d.Raise(ctx, position(), domain.AlertStopLossHit, "Stop Loss Hit", "m", "")
	d.Raise(ctx, position(), domain.AlertRiskWarning, "Risk", "m", domain.SeverityHigh)

	require.NoError(t, d.Acknowledge(ctx, a.ID))
	assert.True(t, d.History()[0].Acknowledged)

	un := d.Unacknowledged()
	require.Len(t, un, 1)
	assert.Equal(t, "Risk", un[0].Title)

	assert.ErrorIs(t, d.Acknowledge(ctx, "missing"), domain.ErrNotFound)
}

func TestPersistAndLoad(t *testing.T) {
	kv := memory.NewKVStore()
	ctx := context.Background()

	d := newTestDispatcher(kv, nil)
	a := d.Raise(ctx, position(), domain.AlertStopLossHit, "Stop Loss Hit", "m", "")
	require.NoError(t, d.Acknowledge(ctx, a.ID))
	d.Stop()

	restored := newTestDispatcher(kv, nil)
	restored.Load(ctx)
	h := restored.History()
	require.Len(t, h, 1)
	assert.Equal(t, a.ID, h[0].ID)
	assert.True(t, h[0].Acknowledged)
}

func TestLoadSkipsMalformedEntries(t *testing.T) {
	kv := memory.NewKVStore()
	ctx := context.Background()
	good, err := json.Marshal(domain.Alert{ID: "01A", Type: domain.AlertPrice, Title: "ok"})
	require.NoError(t, err)
	raw := fmt.Sprintf(`[%s, {"id": 7}, {"title": "no id"}, "junk"]`, good)
	require.NoError(t, kv.Set(ctx, domain.KeyAlertHistory, []byte(raw)))

	d := newTestDispatcher(kv, nil)
	d.Load(ctx)
	h := d.History()
	require.Len(t, h, 1)
	assert.Equal(t, "ok", h[0].Title)
}

func TestLoadMissingOrCorrupt(t *testing.T) {
	kv := memory.NewKVStore()
	ctx := context.Background()

	d := newTestDispatcher(kv, nil)
	d.Load(ctx)
	assert.Empty(t, d.History())

	require.NoError(t, kv.Set(ctx, domain.KeyAlertHistory, []byte("{not json")))
	d.Load(ctx)
	assert.Empty(t, d.History())
}
