package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradewatch/internal/alert"
	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/policy"
	"github.com/alanyoungcy/tradewatch/internal/server/handler"
	"github.com/alanyoungcy/tradewatch/internal/settings"
	"github.com/alanyoungcy/tradewatch/internal/store/memory"
	"github.com/alanyoungcy/tradewatch/internal/tracker"
)

// idleFeed never produces ticks; prices arrive through POST /api/prices.
type idleFeed struct{}

func (idleFeed) Subscribe(ctx context.Context, _ string) (<-chan domain.Tick, error) {
	ch := make(chan domain.Tick)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type nopDeliverer struct{}

func (nopDeliverer) Deliver(context.Context, domain.Alert) policy.Outcome {
	return policy.OutcomeDelivered
}

type apiHarness struct {
	handler    http.Handler
	tracker    *tracker.Tracker
	dispatcher *alert.Dispatcher
	settings   *settings.Store
}

func newAPIHarness(t *testing.T, apiKey string) *apiHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := memory.NewKVStore()

	st := settings.NewStore(kv, logger)
	prefs := domain.DefaultPreferences()
	prefs.PnLThresholds = false
	prefs.RiskWarnings = false
	require.NoError(t, st.UpdatePreferences(context.Background(), prefs))

	disp := alert.NewDispatcher(kv, nopDeliverer{}, alert.Config{FlushDelay: time.Millisecond}, logger)
	tr := tracker.New(tracker.Config{FlushDelay: time.Millisecond}, idleFeed{}, kv, disp, st, logger)
	t.Cleanup(func() {
		tr.Stop()
		disp.Stop()
	})

	h := NewHandler(Config{APIKey: apiKey}, Handlers{
		Health:    handler.NewHealthHandler("full", logger),
		Positions: handler.NewPositionHandler(tr, logger),
		Alerts:    handler.NewAlertHandler(disp, logger),
		Settings:  handler.NewSettingsHandler(st, logger),
	}, nil, logger)
	return &apiHarness{handler: h, tracker: tr, dispatcher: disp, settings: st}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func ptr(v float64) *float64 { return &v }

func TestHealth(t *testing.T) {
	h := newAPIHarness(t, "")
	rec := h.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "full", body["mode"])
}

func TestPositionLifecycle(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(t, http.MethodPost, "/api/positions", domain.PositionSpec{
		Symbol:     "EURUSD",
		Side:       domain.SideBuy,
		EntryPrice: 1.1000,
		Quantity:   10000,
		TakeProfit: ptr(1.1050),
		StopLoss:   ptr(1.0950),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Position](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.PositionStatusActive, created.Status)

	rec = h.do(t, http.MethodGet, "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Positions []domain.Position `json:"positions"`
		Count     int               `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)

	rec = h.do(t, http.MethodGet, "/api/positions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/subscriptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "EURUSD")

	rec = h.do(t, http.MethodPost, "/api/prices", map[string]any{"symbol": "EURUSD", "price": 1.1020})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/pnl", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pnl := decode[map[string]float64](t, rec)
	assert.InDelta(t, 20.0, pnl["unrealizedPnL"], 1e-6)

	rec = h.do(t, http.MethodPost, "/api/prices", map[string]any{"symbol": "EURUSD", "price": 1.1060})
	require.Equal(t, http.StatusAccepted, rec.Code)

	_, err := h.tracker.Position(created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec = h.do(t, http.MethodGet, "/api/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decode[struct {
		Alerts []domain.Alert `json:"alerts"`
	}](t, rec)
	require.NotEmpty(t, alerts.Alerts)
	assert.Equal(t, domain.AlertTakeProfitHit, alerts.Alerts[0].Type)
}

func TestPositionErrors(t *testing.T) {
	h := newAPIHarness(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"invalid spec", http.MethodPost, "/api/positions", domain.PositionSpec{Symbol: "EURUSD", Side: "long", EntryPrice: 1.1, Quantity: 1}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/positions", map[string]any{"symbol": "EURUSD", "bogus": 1}, http.StatusBadRequest},
		{"get unknown", http.MethodGet, "/api/positions/missing", nil, http.StatusNotFound},
		{"close unknown", http.MethodPost, "/api/positions/missing/close", map[string]any{"exitPrice": 1.2}, http.StatusNotFound},
		{"cancel unknown", http.MethodPost, "/api/positions/missing/cancel", nil, http.StatusNotFound},
		{"bad price", http.MethodPost, "/api/prices", map[string]any{"symbol": "EURUSD", "price": -1}, http.StatusBadRequest},
		{"missing symbol", http.MethodPost, "/api/prices", map[string]any{"price": 1.1}, http.StatusBadRequest},
		{"ack unknown", http.MethodPost, "/api/alerts/nope/ack", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCloseAndCancel(t *testing.T) {
	h := newAPIHarness(t, "")
	ctx := context.Background()

	a, err := h.tracker.AddPosition(ctx, domain.PositionSpec{Symbol: "BTCUSD", Side: domain.SideSell, EntryPrice: 50000, Quantity: 0.1})
	require.NoError(t, err)
	b, err := h.tracker.AddPosition(ctx, domain.PositionSpec{Symbol: "BTCUSD", Side: domain.SideBuy, EntryPrice: 50000, Quantity: 0.1})
	require.NoError(t, err)
	h.tracker.UpdatePrice(ctx, "BTCUSD", 49000)

	// No exitPrice: closes at the current price.
	rec := h.do(t, http.MethodPost, "/api/positions/"+a.ID+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[domain.Position](t, rec)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, domain.CloseReasonManual, closed.CloseReason)
	require.NotNil(t, closed.ExitPrice)
	assert.Equal(t, 49000.0, *closed.ExitPrice)

	rec = h.do(t, http.MethodPost, "/api/positions/"+b.ID+"/close", map[string]any{"exitPrice": 51000, "reason": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/positions/"+b.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PositionStatusCancelled, decode[domain.Position](t, rec).Status)

	rec = h.do(t, http.MethodPost, "/api/positions/"+b.ID+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, h.tracker.ActivePositions())
}

func TestAcknowledgeAlert(t *testing.T) {
	h := newAPIHarness(t, "")
	pos, err := h.tracker.AddPosition(context.Background(), domain.PositionSpec{Symbol: "ETHUSD", Side: domain.SideBuy, EntryPrice: 3000, Quantity: 1})
	require.NoError(t, err)
	_, err = h.tracker.CancelPosition(context.Background(), pos.ID)
	require.NoError(t, err)

	pending := h.dispatcher.Unacknowledged()
	require.Len(t, pending, 1)

	rec := h.do(t, http.MethodPost, "/api/alerts/"+pending[0].ID+"/ack", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/alerts?unacknowledged=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode[map[string]any](t, rec)["count"])
}

func TestPreferencesAndProfile(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(t, http.MethodPut, "/api/preferences", map[string]any{"alertFrequency": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPut, "/api/preferences", map[string]any{
		"alertFrequency": "batched",
		"quietHours":     map[string]any{"enabled": true, "start": "23:00", "end": "07:00"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	prefs := h.settings.Preferences()
	assert.Equal(t, domain.FrequencyBatched, prefs.AlertFrequency)
	assert.True(t, prefs.QuietHours.Enabled)
	assert.True(t, prefs.TakeProfitHit, "omitted fields keep their values")

	rec = h.do(t, http.MethodGet, "/api/profile", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPut, "/api/profile", map[string]any{"tradingStyle": "swing", "experienceLevel": "beginner"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StyleSwing, decode[domain.PersonalizationProfile](t, rec).TradingStyle)

	rec = h.do(t, http.MethodPut, "/api/profile", map[string]any{"tradingStyle": "yolo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth(t *testing.T) {
	h := newAPIHarness(t, "s3cret")

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/metrics", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/positions", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fakeHistory struct {
	positions []domain.Position
	symbol    string
	limit     int
}

func (f *fakeHistory) Recent(_ context.Context, symbol string, limit int) ([]domain.Position, error) {
	f.symbol, f.limit = symbol, limit
	return f.positions, nil
}

func TestPositionHistory(t *testing.T) {
	h := newAPIHarness(t, "")
	rec := h.do(t, http.MethodGet, "/api/positions/history", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hist := &fakeHistory{positions: []domain.Position{{ID: "p1", Symbol: "EURUSD", Status: domain.PositionStatusClosed}}}
	withHistory := NewHandler(Config{}, Handlers{
		Health:    handler.NewHealthHandler("full", logger),
		Positions: handler.NewPositionHandler(h.tracker, logger).WithHistory(hist),
		Alerts:    handler.NewAlertHandler(h.dispatcher, logger),
		Settings:  handler.NewSettingsHandler(h.settings, logger),
	}, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/positions/history?symbol=EURUSD&limit=1000", nil)
	rec = httptest.NewRecorder()
	withHistory.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"p1"`)
	assert.Equal(t, "EURUSD", hist.symbol)
	assert.Equal(t, 500, hist.limit)
}
