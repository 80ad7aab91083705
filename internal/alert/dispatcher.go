// Package alert keeps the bounded alert history and hands every new alert to
// the notification policy.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/events"
	"github.com/alanyoungcy/tradewatch/internal/metrics"
	"github.com/alanyoungcy/tradewatch/internal/persist"
	"github.com/alanyoungcy/tradewatch/internal/policy"
)

// MaxHistory is the number of alerts retained. The oldest is evicted first.
const MaxHistory = 100

// Deliverer schedules a notification attempt for an alert.
type Deliverer interface {
	Deliver(ctx context.Context, a domain.Alert) policy.Outcome
}

// Dispatcher owns the alert history.
type Dispatcher struct {
	kv        domain.KVStore
	deliverer Deliverer
	events    *events.Publisher
	flusher   *persist.Debouncer
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	history []domain.Alert
}

// Config holds the optional collaborators of a Dispatcher.
type Config struct {
	// FlushDelay is the debounce window for persisting history.
	FlushDelay time.Duration
	// Events receives alert_raised events. May be nil.
	Events *events.Publisher
	// Now overrides the clock.
	Now func() time.Time
}

// NewDispatcher creates a Dispatcher persisting to kv and delivering through
// deliverer.
func NewDispatcher(kv domain.KVStore, deliverer Deliverer, cfg Config, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		kv:        kv,
		deliverer: deliverer,
		events:    cfg.Events,
		now:       cfg.Now,
		logger:    logger.With(slog.String("component", "alert")),
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.flusher = persist.NewDebouncer(domain.KeyAlertHistory, cfg.FlushDelay, d.save, logger)
	return d
}

// DefaultSeverity returns the severity used for t when none is given.
func DefaultSeverity(t domain.AlertType) domain.Severity {
	switch t {
	case domain.AlertTakeProfitHit, domain.AlertStopLossHit:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

// Raise records a new alert for pos and schedules its notification. An empty
// severity selects DefaultSeverity.
func (d *Dispatcher) Raise(ctx context.Context, pos domain.Position, t domain.AlertType, title, message string, severity domain.Severity) domain.Alert {
	if severity == "" {
		severity = DefaultSeverity(t)
	}
	now := d.now().UTC()
	a := domain.Alert{
		ID:         newID(now),
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Type:       t,
		Title:      title,
		Message:    message,
		Timestamp:  now,
		Severity:   severity,
		Metadata:   positionMetadata(pos),
	}

	d.mu.Lock()
	d.history = append(d.history, a)
	if over := len(d.history) - MaxHistory; over > 0 {
		d.history = append([]domain.Alert(nil), d.history[over:]...)
	}
	d.mu.Unlock()
	d.flusher.Mark()

	metrics.AlertsRaised.WithLabelValues(string(t), string(severity)).Inc()
	d.logger.InfoContext(ctx, "alert: raised",
		slog.String("alert_id", a.ID),
		slog.String("position_id", a.PositionID),
		slog.String("type", string(t)),
		slog.String("severity", string(severity)),
	)

	d.events.Publish(domain.ChannelAlerts, events.AlertRaised, a)
	if d.deliverer != nil {
		d.deliverer.Deliver(ctx, a)
	}
	return a
}

func positionMetadata(pos domain.Position) map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	meta := map[string]string{
		"side":       string(pos.Side),
		"entryPrice": f(pos.EntryPrice),
		"price":      f(pos.CurrentPrice),
		"pnl":        f(pos.UnrealizedPnL),
		"pnlPercent": f(pos.UnrealizedPnLPercent),
	}
	if pos.ExitPrice != nil {
		meta["exitPrice"] = f(*pos.ExitPrice)
	}
	if pos.TrailingStop != nil {
		meta["trailingStop"] = f(*pos.TrailingStop)
	}
	return meta
}

// History returns a copy of the retained alerts, oldest first.
func (d *Dispatcher) History() []domain.Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]domain.Alert(nil), d.history...)
}

// Unacknowledged returns the retained alerts not yet acknowledged.
func (d *Dispatcher) Unacknowledged() []domain.Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []domain.Alert
	for _, a := range d.history {
		if !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out
}

// Acknowledge marks the alert with id as read. Unknown or evicted ids return
// domain.ErrNotFound.
func (d *Dispatcher) Acknowledge(ctx context.Context, id string) error {
	d.mu.Lock()
	found := false
	for i := range d.history {
		if d.history[i].ID == id {
			d.history[i].Acknowledged = true
			found = true
			break
		}
	}
	d.mu.Unlock()

	if !found {
		return fmt.Errorf("alert: acknowledge %s: %w", id, domain.ErrNotFound)
	}
	d.flusher.Mark()
	d.logger.DebugContext(ctx, "alert: acknowledged", slog.String("alert_id", id))
	return nil
}

// Load restores persisted history. Malformed entries are skipped; a missing
// or unreadable document leaves the history empty.
func (d *Dispatcher) Load(ctx context.Context) {
	raw, err := d.kv.Get(ctx, domain.KeyAlertHistory)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		d.logger.WarnContext(ctx, "alert: load history failed, starting empty",
			slog.String("error", err.Error()),
		)
		return
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		d.logger.WarnContext(ctx, "alert: history malformed, starting empty",
			slog.String("error", err.Error()),
		)
		return
	}

	history := make([]domain.Alert, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		var a domain.Alert
		if err := json.Unmarshal(e, &a); err != nil || a.ID == "" || a.Type == "" {
			skipped++
			continue
		}
		history = append(history, a)
	}
	if over := len(history) - MaxHistory; over > 0 {
		history = history[over:]
	}

	d.mu.Lock()
	d.history = history
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "alert: history loaded",
		slog.Int("alerts", len(history)),
		slog.Int("skipped", skipped),
	)
}

func (d *Dispatcher) save(ctx context.Context) error {
	history := d.History()
	if history == nil {
		history = []domain.Alert{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("alert: encode history: %w", err)
	}
	if err := d.kv.Set(ctx, domain.KeyAlertHistory, raw); err != nil {
		return fmt.Errorf("alert: persist history: %w", err)
	}
	return nil
}

// Stop writes any pending history change.
func (d *Dispatcher) Stop() {
	d.flusher.Stop()
}
