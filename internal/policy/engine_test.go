package policy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

type staticSources struct {
	prefs   domain.NotificationPreferences
	profile *domain.PersonalizationProfile
}

func (s *staticSources) Preferences() domain.NotificationPreferences { return s.prefs }

func (s *staticSources) Profile() (domain.PersonalizationProfile, bool) {
	if s.profile == nil {
		return domain.PersonalizationProfile{}, false
	}
	return *s.profile, true
}

type sent struct {
	title, body string
	meta        map[string]string
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []sent
}

func (g *fakeGateway) Send(_ context.Context, title, body string, meta map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sent{title, body, meta})
	return nil
}

func (g *fakeGateway) all() []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sent(nil), g.sent...)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func utcPrefs() domain.NotificationPreferences {
	p := domain.DefaultPreferences()
	p.Timezone = "UTC"
	return p
}

// Monday 2026-10-19 23:00 UTC.
var mondayNight = time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)

func alertOf(t domain.AlertType, sev domain.Severity) domain.Alert {
	return domain.Alert{
		ID:         "a1",
		PositionID: "p1",
		Symbol:     "EURUSD",
		Type:       t,
		Title:      "Take Profit Hit!",
		Message:    "EURUSD closed at 1.1050",
		Severity:   sev,
	}
}

func TestDecideQuietHours(t *testing.T) {
	prefs := utcPrefs()
	prefs.QuietHours.Enabled = true
	e := NewEngine(Config{}, &staticSources{prefs: prefs}, &fakeGateway{}, quietLogger())

	d := e.Decide(alertOf(domain.AlertPnLThreshold, domain.SeverityMedium), mondayNight)
	assert.Equal(t, OutcomeSuppressedPolicy, d.Outcome)
	assert.Equal(t, "quiet_hours", d.Reason)

	d = e.Decide(alertOf(domain.AlertStopLossHit, domain.SeverityCritical), mondayNight)
	assert.Equal(t, OutcomeDelivered, d.Outcome)

	d = e.Decide(alertOf(domain.AlertTakeProfitHit, domain.SeverityHigh), mondayNight)
	assert.Equal(t, OutcomeDelivered, d.Outcome)

	strict := NewEngine(Config{QuietHoursBypass: domain.SeverityCritical}, &staticSources{prefs: prefs}, &fakeGateway{}, quietLogger())
	d = strict.Decide(alertOf(domain.AlertTakeProfitHit, domain.SeverityHigh), mondayNight)
	assert.Equal(t, OutcomeSuppressedPolicy, d.Outcome)
}

func TestDecideWeekendSuppressesEverything(t *testing.T) {
	prefs := utcPrefs()
	prefs.WeekendsEnabled = false
	e := NewEngine(Config{}, &staticSources{prefs: prefs}, &fakeGateway{}, quietLogger())

	saturday := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	d := e.Decide(alertOf(domain.AlertStopLossHit, domain.SeverityCritical), saturday)
	assert.Equal(t, OutcomeSuppressedPolicy, d.Outcome)
	assert.Equal(t, "weekend", d.Reason)

	d = e.Decide(alertOf(domain.AlertStopLossHit, domain.SeverityCritical), mondayNight)
	assert.Equal(t, OutcomeDelivered, d.Outcome)
}

func TestDecideCategoryDisabled(t *testing.T) {
	prefs := utcPrefs()
	prefs.TrailingStopMoved = false
	e := NewEngine(Config{}, &staticSources{prefs: prefs}, &fakeGateway{}, quietLogger())

	d := e.Decide(alertOf(domain.AlertTrailingMoved, domain.SeverityLow), mondayNight)
	assert.Equal(t, OutcomeSuppressedCategory, d.Outcome)
}

func TestDecidePersonalizes(t *testing.T) {
	src := &staticSources{
		prefs:   utcPrefs(),
		profile: &domain.PersonalizationProfile{AIPersonality: domain.PersonalityAggressive},
	}
	e := NewEngine(Config{}, src, &fakeGateway{}, quietLogger())

	d := e.Decide(alertOf(domain.AlertTakeProfitHit, domain.SeverityHigh), mondayNight)
	assert.Equal(t, "🔥 Take Profit Hit!", d.Title)
	assert.Equal(t, "EURUSD closed at 1.1050", d.Body)
}

func TestDeliverSendsAndAudits(t *testing.T) {
	gw := &fakeGateway{}
	audit := &fakeAudit{}
	prefs := utcPrefs()
	prefs.QuietHours.Enabled = true
	e := NewEngine(Config{}, &staticSources{prefs: prefs}, gw, quietLogger(),
		WithClock(func() time.Time { return mondayNight }),
		WithAudit(audit),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	assert.Equal(t, OutcomeDelivered, e.Deliver(ctx, alertOf(domain.AlertStopLossHit, domain.SeverityCritical)))
	assert.Equal(t, OutcomeSuppressedPolicy, e.Deliver(ctx, alertOf(domain.AlertPnLThreshold, domain.SeverityMedium)))

	require.Eventually(t, func() bool { return len(audit.all()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got := gw.all()
	require.Len(t, got, 1)
	assert.Equal(t, "Take Profit Hit!", got[0].title)
	assert.Equal(t, "critical", got[0].meta["severity"])
	assert.Equal(t, "p1", got[0].meta["tradeId"])
	assert.Equal(t, []string{"notification.delivered", "notification.suppressed_policy"}, audit.all())
}

func TestBatchedDigest(t *testing.T) {
	gw := &fakeGateway{}
	prefs := utcPrefs()
	prefs.AlertFrequency = domain.FrequencyBatched
	now := mondayNight
	e := NewEngine(Config{BatchInterval: time.Minute}, &staticSources{prefs: prefs}, gw, quietLogger(),
		WithClock(func() time.Time { return now }),
	)

	ctx := context.Background()
	assert.Equal(t, OutcomeBatched, e.Deliver(ctx, alertOf(domain.AlertTakeProfitHit, domain.SeverityHigh)))
	a := alertOf(domain.AlertPnLThreshold, domain.SeverityMedium)
	a.Title = "Profit Alert!"
	assert.Equal(t, OutcomeBatched, e.Deliver(ctx, a))

	e.flushDigest(ctx, false)
	assert.Empty(t, gw.all(), "interval not yet elapsed")

	now = now.Add(2 * time.Minute)
	e.flushDigest(ctx, false)

	got := gw.all()
	require.Len(t, got, 1)
	assert.Equal(t, "2 trade alerts", got[0].title)
	assert.Equal(t, "• Take Profit Hit!: EURUSD closed at 1.1050\n• Profit Alert!: EURUSD closed at 1.1050", got[0].body)
	assert.Equal(t, "high", got[0].meta["severity"])

	e.FlushDigest(ctx)
	assert.Len(t, gw.all(), 1, "empty digest is not sent")
}
