// Package policy decides whether, when and how an alert becomes a
// notification: weekend and quiet-hours suppression, per-category opt-outs,
// personalized wording and instant or digest delivery.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/metrics"
)

// Outcome is the terminal result of one notification attempt.
type Outcome string

const (
	OutcomeDelivered          Outcome = "delivered"
	OutcomeBatched            Outcome = "batched"
	OutcomeSuppressedPolicy   Outcome = "suppressed_policy"
	OutcomeSuppressedCategory Outcome = "suppressed_category"
	OutcomeDropped            Outcome = "dropped"
)

// Sources gives the engine read-only access to the user's settings.
type Sources interface {
	Preferences() domain.NotificationPreferences
	Profile() (domain.PersonalizationProfile, bool)
}

// Config tunes the engine. Zero values select defaults.
type Config struct {
	// QuietHoursBypass is the lowest severity delivered during quiet hours.
	QuietHoursBypass domain.Severity
	// LegacyQuietHours selects the old string-comparison window check.
	LegacyQuietHours bool
	// BatchInterval is the digest period for the "batched" frequency.
	BatchInterval time.Duration
	QueueSize     int
	SendTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.QuietHoursBypass == "" {
		c.QuietHoursBypass = domain.SeverityHigh
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 5 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
}

// Decision is the pure result of evaluating an alert against the settings.
type Decision struct {
	Outcome Outcome
	Reason  string
	Title   string
	Body    string
}

// job is one unit of work for the delivery worker.
type job struct {
	alert    domain.Alert
	decision Decision
	send     bool
}

// Engine evaluates alerts and hands deliverable ones to the gateway on its
// own worker goroutine.
type Engine struct {
	cfg     Config
	sources Sources
	gateway domain.Gateway
	audit   domain.AuditStore
	now     func() time.Time
	logger  *slog.Logger

	queue chan job

	mu         sync.Mutex
	digest     []job
	lastDigest time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithAudit records every attempt to a. a may be nil.
func WithAudit(a domain.AuditStore) Option {
	return func(e *Engine) { e.audit = a }
}

// NewEngine creates an Engine delivering through gateway.
func NewEngine(cfg Config, sources Sources, gateway domain.Gateway, logger *slog.Logger, opts ...Option) *Engine {
	cfg.setDefaults()
	e := &Engine{
		cfg:     cfg,
		sources: sources,
		gateway: gateway,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "policy")),
		queue:   make(chan job, cfg.QueueSize),
	}
	for _, o := range opts {
		o(e)
	}
	e.lastDigest = e.now()
	return e
}

// Decide runs the suppression, category and personalization steps for a at
// time now. It performs no I/O.
func (e *Engine) Decide(a domain.Alert, now time.Time) Decision {
	prefs := e.sources.Preferences()
	local := now.In(prefs.Location())

	if !prefs.WeekendsEnabled && IsWeekend(local) {
		return Decision{Outcome: OutcomeSuppressedPolicy, Reason: "weekend"}
	}
	if InQuietHours(prefs.QuietHours, local, e.cfg.LegacyQuietHours) && !a.Severity.AtLeast(e.cfg.QuietHoursBypass) {
		return Decision{Outcome: OutcomeSuppressedPolicy, Reason: "quiet_hours"}
	}
	if !prefs.CategoryEnabled(a.Type) {
		return Decision{Outcome: OutcomeSuppressedCategory, Reason: string(a.Type)}
	}

	title, body := a.Title, a.Message
	if profile, ok := e.sources.Profile(); ok {
		title, body = Personalize(title, body, a, profile)
	}

	if prefs.AlertFrequency == domain.FrequencyBatched || prefs.AlertFrequency == domain.FrequencyHourly {
		return Decision{Outcome: OutcomeBatched, Title: title, Body: body}
	}
	return Decision{Outcome: OutcomeDelivered, Title: title, Body: body}
}

// Deliver decides on a and schedules the resulting work. It never blocks on
// I/O; if the worker queue is full the attempt is dropped.
func (e *Engine) Deliver(ctx context.Context, a domain.Alert) Outcome {
	d := e.Decide(a, e.now())

	switch d.Outcome {
	case OutcomeBatched:
		e.mu.Lock()
		e.digest = append(e.digest, job{alert: a, decision: d})
		e.mu.Unlock()
		e.enqueue(ctx, job{alert: a, decision: d})
	case OutcomeDelivered:
		if !e.enqueue(ctx, job{alert: a, decision: d, send: true}) {
			d.Outcome = OutcomeDropped
		}
	default:
		e.enqueue(ctx, job{alert: a, decision: d})
	}

	metrics.NotificationOutcomes.WithLabelValues(string(d.Outcome)).Inc()
	e.logger.DebugContext(ctx, "policy: decision",
		slog.String("alert_id", a.ID),
		slog.String("type", string(a.Type)),
		slog.String("outcome", string(d.Outcome)),
		slog.String("reason", d.Reason),
	)
	return d.Outcome
}

func (e *Engine) enqueue(ctx context.Context, j job) bool {
	select {
	case e.queue <- j:
		return true
	default:
		e.logger.WarnContext(ctx, "policy: delivery queue full, dropping",
			slog.String("alert_id", j.alert.ID),
		)
		return false
	}
}

// Run processes the delivery queue and flushes digests until ctx is
// cancelled. Pending digest entries are sent on exit.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			e.flushDigest(context.Background(), true)
			return ctx.Err()
		case j := <-e.queue:
			e.process(ctx, j)
		case <-ticker.C:
			e.flushDigest(ctx, false)
		}
	}
}

func (e *Engine) drain() {
	for {
		select {
		case j := <-e.queue:
			e.process(context.Background(), j)
		default:
			return
		}
	}
}

func (e *Engine) process(ctx context.Context, j job) {
	outcome := j.decision.Outcome
	var sendErr error
	if j.send {
		sendErr = e.send(ctx, j.decision.Title, j.decision.Body, metadata(j.alert))
	}

	detail := map[string]any{
		"alert_id":    j.alert.ID,
		"position_id": j.alert.PositionID,
		"symbol":      j.alert.Symbol,
		"type":        string(j.alert.Type),
		"severity":    string(j.alert.Severity),
		"outcome":     string(outcome),
	}
	if j.decision.Reason != "" {
		detail["reason"] = j.decision.Reason
	}
	if sendErr != nil {
		detail["error"] = sendErr.Error()
	}
	e.record(ctx, "notification."+string(outcome), detail)
}

func (e *Engine) send(ctx context.Context, title, body string, meta map[string]string) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	if err := e.gateway.Send(sendCtx, title, body, meta); err != nil {
		e.logger.WarnContext(ctx, "policy: gateway send failed",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (e *Engine) record(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "policy: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// FlushDigest sends pending digest entries immediately.
func (e *Engine) FlushDigest(ctx context.Context) {
	e.flushDigest(ctx, true)
}

func (e *Engine) flushDigest(ctx context.Context, force bool) {
	now := e.now()
	interval := e.cfg.BatchInterval
	switch e.sources.Preferences().AlertFrequency {
	case domain.FrequencyHourly:
		interval = time.Hour
	case domain.FrequencyInstant:
		force = true
	}

	e.mu.Lock()
	if len(e.digest) == 0 || (!force && now.Sub(e.lastDigest) < interval) {
		e.mu.Unlock()
		return
	}
	batch := e.digest
	e.digest = nil
	e.lastDigest = now
	e.mu.Unlock()

	title, body, meta := renderDigest(batch)
	err := e.send(ctx, title, body, meta)
	detail := map[string]any{"count": len(batch)}
	if err != nil {
		detail["error"] = err.Error()
	}
	e.record(ctx, "notification.digest", detail)
}

func renderDigest(batch []job) (string, string, map[string]string) {
	top := domain.SeverityLow
	lines := make([]string, 0, len(batch))
	for _, j := range batch {
		if j.alert.Severity.Rank() > top.Rank() {
			top = j.alert.Severity
		}
		lines = append(lines, fmt.Sprintf("• %s: %s", j.decision.Title, j.decision.Body))
	}
	title := fmt.Sprintf("%d trade alerts", len(batch))
	if len(batch) == 1 {
		title = "1 trade alert"
	}
	meta := map[string]string{
		"digest":   "true",
		"count":    strconv.Itoa(len(batch)),
		"severity": string(top),
	}
	return title, strings.Join(lines, "\n"), meta
}

func metadata(a domain.Alert) map[string]string {
	meta := make(map[string]string, len(a.Metadata)+5)
	for k, v := range a.Metadata {
		meta[k] = v
	}
	meta["alertId"] = a.ID
	meta["tradeId"] = a.PositionID
	meta["type"] = string(a.Type)
	meta["severity"] = string(a.Severity)
	if a.Symbol != "" {
		meta["symbol"] = a.Symbol
	}
	return meta
}
