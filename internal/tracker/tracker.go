// Package tracker monitors open positions against a live price feed. It
// owns the active position set, applies ticks, closes positions whose exit
// conditions trigger and raises the resulting alerts.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/evaluator"
	"github.com/alanyoungcy/tradewatch/internal/events"
	"github.com/alanyoungcy/tradewatch/internal/metrics"
	"github.com/alanyoungcy/tradewatch/internal/persist"
)

const archiveTimeout = 30 * time.Second

// AlertRaiser records an alert about a position.
type AlertRaiser interface {
	Raise(ctx context.Context, pos domain.Position, t domain.AlertType, title, message string, severity domain.Severity) domain.Alert
}

// PreferenceSource supplies the thresholds and toggles read on each tick.
type PreferenceSource interface {
	Preferences() domain.NotificationPreferences
}

// Config selects the exit policies and optional collaborators.
type Config struct {
	Trailing   evaluator.TrailingMode
	ExitAt     evaluator.ExitAt
	FlushDelay time.Duration
	// Archiver receives every position leaving the active set. May be nil.
	Archiver domain.PositionArchiver
	// Events receives position lifecycle events. May be nil.
	Events *events.Publisher
	Now    func() time.Time
}

// bucket holds the active positions of one symbol. Every mutation of those
// positions happens under mu, so ticks for one symbol apply in order.
type bucket struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
}

// Tracker is the position store. It is safe for concurrent use.
type Tracker struct {
	cfg     Config
	kv      domain.KVStore
	alerts  AlertRaiser
	prefs   PreferenceSource
	subs    *Subscriber
	flusher *persist.Debouncer
	logger  *slog.Logger

	mu      sync.RWMutex
	buckets map[string]*bucket
	index   map[string]string // position id -> symbol

	archives sync.WaitGroup
}

// New creates a Tracker streaming prices from feed.
func New(cfg Config, feed domain.PriceFeed, kv domain.KVStore, alerts AlertRaiser, prefs PreferenceSource, logger *slog.Logger) *Tracker {
	if cfg.Trailing == "" {
		cfg.Trailing = evaluator.TrailingStatic
	}
	if cfg.ExitAt == "" {
		cfg.ExitAt = evaluator.ExitAtLevel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	t := &Tracker{
		cfg:     cfg,
		kv:      kv,
		alerts:  alerts,
		prefs:   prefs,
		logger:  logger.With(slog.String("component", "tracker")),
		buckets: make(map[string]*bucket),
		index:   make(map[string]string),
	}
	t.subs = NewSubscriber(feed, t.onTick, logger)
	t.flusher = persist.NewDebouncer(domain.KeyActivePositions, cfg.FlushDelay, t.save, logger)
	return t
}

// pendingAlert is raised after the bucket lock is released.
type pendingAlert struct {
	pos      domain.Position
	typ      domain.AlertType
	title    string
	message  string
	severity domain.Severity
}

// AddPosition validates spec and starts monitoring the new position.
func (t *Tracker) AddPosition(ctx context.Context, spec domain.PositionSpec) (domain.Position, error) {
	if err := spec.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("tracker: add position: %w", err)
	}

	entryTime := spec.EntryTime
	if entryTime.IsZero() {
		entryTime = t.cfg.Now()
	}
	pos := &domain.Position{
		ID:               uuid.NewString(),
		Symbol:           spec.Symbol,
		Side:             spec.Side,
		EntryPrice:       spec.EntryPrice,
		CurrentPrice:     spec.EntryPrice,
		Quantity:         spec.Quantity,
		Commission:       spec.Commission,
		StopLoss:         spec.StopLoss,
		TakeProfit:       spec.TakeProfit,
		TrailingStop:     spec.TrailingStop,
		TrailingDistance: evaluator.TrailingDistance(spec.EntryPrice, spec.TrailingStop),
		EntryTime:        entryTime.UTC(),
		Status:           domain.PositionStatusActive,
		DataProvider:     spec.DataProvider,
		Notes:            spec.Notes,
	}
	*pos = pos.Clone()

	b := t.bucket(pos.Symbol)
	b.mu.Lock()
	b.positions[pos.ID] = pos
	t.mu.Lock()
	t.index[pos.ID] = pos.Symbol
	t.mu.Unlock()
	t.subs.Subscribe(pos.Symbol)
	out := pos.Clone()
	b.mu.Unlock()

	t.flusher.Mark()
	metrics.PositionsOpened.Inc()
	metrics.ActivePositions.Inc()
	t.cfg.Events.Publish(domain.ChannelPositions, events.PositionOpened, out)

	t.logger.InfoContext(ctx, "tracker: position opened",
		slog.String("position_id", out.ID),
		slog.String("symbol", out.Symbol),
		slog.String("side", string(out.Side)),
		slog.Float64("entry_price", out.EntryPrice),
		slog.Float64("quantity", out.Quantity),
	)

	if t.prefs.Preferences().SessionStart {
		t.alerts.Raise(ctx, out, domain.AlertPrice, "Trade Opened",
			fmt.Sprintf("%s %g %s at %g", upper(out.Side), out.Quantity, out.Symbol, out.EntryPrice),
			domain.SeverityMedium)
	}
	return out, nil
}

// ClosePosition closes the active position id at exitPrice. Unknown or
// already closed ids return domain.ErrNotFound.
func (t *Tracker) ClosePosition(ctx context.Context, id string, exitPrice float64, reason domain.CloseReason) (domain.Position, error) {
	if !domain.ValidPrice(exitPrice) {
		return domain.Position{}, fmt.Errorf("tracker: close %s: %w: exit price must be > 0", id, domain.ErrInvalidPosition)
	}
	if reason == "" {
		reason = domain.CloseReasonManual
	}
	if !reason.Valid() {
		return domain.Position{}, fmt.Errorf("tracker: close %s: %w: unknown reason %q", id, domain.ErrInvalidPosition, reason)
	}

	b, err := t.bucketOf(id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("tracker: close %s: %w", id, err)
	}

	b.mu.Lock()
	pos, ok := b.positions[id]
	if !ok {
		b.mu.Unlock()
		return domain.Position{}, fmt.Errorf("tracker: close %s: %w", id, domain.ErrNotFound)
	}
	closed, alert := t.closeLocked(b, pos, exitPrice, reason)
	b.mu.Unlock()

	t.afterRemove(ctx, closed, []pendingAlert{alert})
	return closed, nil
}

// CancelPosition stops monitoring id without an exit. Unknown or already
// closed ids return domain.ErrNotFound.
func (t *Tracker) CancelPosition(ctx context.Context, id string) (domain.Position, error) {
	b, err := t.bucketOf(id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("tracker: cancel %s: %w", id, err)
	}

	b.mu.Lock()
	pos, ok := b.positions[id]
	if !ok {
		b.mu.Unlock()
		return domain.Position{}, fmt.Errorf("tracker: cancel %s: %w", id, domain.ErrNotFound)
	}
	now := t.cfg.Now().UTC()
	pos.Status = domain.PositionStatusCancelled
	pos.ClosedAt = &now
	t.removeLocked(b, pos)
	cancelled := pos.Clone()
	b.mu.Unlock()

	alert := pendingAlert{
		pos:      cancelled,
		typ:      domain.AlertPrice,
		title:    "Position Cancelled",
		message:  fmt.Sprintf("%s %s monitoring cancelled at %g", upper(cancelled.Side), cancelled.Symbol, cancelled.CurrentPrice),
		severity: domain.SeverityLow,
	}
	t.afterRemove(ctx, cancelled, []pendingAlert{alert})
	return cancelled, nil
}

// UpdatePrice applies price to every active position on symbol. Invalid
// prices are skipped.
func (t *Tracker) UpdatePrice(ctx context.Context, symbol string, price float64) {
	t.apply(ctx, symbol, price, nil)
}

func (t *Tracker) onTick(ctx context.Context, tick domain.Tick) {
	t.apply(ctx, tick.Symbol, tick.Price, ctx)
}

// apply runs one tick. When live is non-nil and already cancelled, the tick
// belongs to a torn-down subscription and is dropped.
func (t *Tracker) apply(ctx context.Context, symbol string, price float64, live context.Context) {
	if !domain.ValidPrice(price) {
		metrics.TicksSkipped.WithLabelValues("invalid_price").Inc()
		t.logger.DebugContext(ctx, "tracker: invalid price skipped",
			slog.String("symbol", symbol),
			slog.Float64("price", price),
		)
		return
	}

	t.mu.RLock()
	b, ok := t.buckets[symbol]
	t.mu.RUnlock()
	if !ok {
		metrics.TicksSkipped.WithLabelValues("no_positions").Inc()
		return
	}

	prefs := t.prefs.Preferences()
	opts := evaluator.Options{
		Trailing: t.cfg.Trailing,
		ExitAt:   t.cfg.ExitAt,
	}
	if prefs.PnLThresholds {
		opts.PnLThresholdPercent = prefs.PnLThresholdPercent
	}
	if prefs.RiskWarnings {
		opts.RiskThresholdPercent = prefs.RiskThresholdPercent
	}

	start := time.Now()
	var (
		alerts []pendingAlert
		closed []domain.Position
	)

	b.mu.Lock()
	if live != nil && live.Err() != nil {
		b.mu.Unlock()
		metrics.TicksSkipped.WithLabelValues("unsubscribed").Inc()
		return
	}
	if len(b.positions) == 0 {
		b.mu.Unlock()
		metrics.TicksSkipped.WithLabelValues("no_positions").Inc()
		return
	}
	for _, pos := range sortedPositions(b) {
		oldPrice, oldPct := pos.CurrentPrice, pos.UnrealizedPnLPercent
		pos.CurrentPrice = price
		pos.UnrealizedPnL, pos.UnrealizedPnLPercent = evaluator.PnL(pos.Side, pos.EntryPrice, price, pos.Quantity, pos.Commission)

		res := evaluator.Evaluate(*pos, oldPrice, oldPct, opts)
		if res.Closed() {
			c, a := t.closeLocked(b, pos, res.ExitPrice, res.Trigger.CloseReason())
			closed = append(closed, c)
			alerts = append(alerts, a)
			continue
		}
		if res.TrailingMoved {
			level := res.NewTrailing
			pos.TrailingStop = &level
			alerts = append(alerts, pendingAlert{
				pos:      pos.Clone(),
				typ:      domain.AlertTrailingMoved,
				title:    "📈 Trailing Stop Moved",
				message:  fmt.Sprintf("%s trailing stop moved to %g", pos.Symbol, level),
				severity: domain.SeverityMedium,
			})
		}
		if res.PnLThresholdCrossed {
			alerts = append(alerts, pnlAlert(pos.Clone()))
		}
		if res.RiskThresholdCrossed {
			alerts = append(alerts, pendingAlert{
				pos:      pos.Clone(),
				typ:      domain.AlertRiskWarning,
				title:    "⚠️ Risk Warning",
				message:  fmt.Sprintf("%s loss reached %.2f%%, beyond your %.2f%% risk limit", pos.Symbol, pos.UnrealizedPnLPercent, prefs.RiskThresholdPercent),
				severity: domain.SeverityHigh,
			})
		}
	}
	b.mu.Unlock()

	t.flusher.Mark()
	metrics.TicksProcessed.WithLabelValues(symbol).Inc()
	metrics.TickLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)

	for _, c := range closed {
		t.afterRemove(ctx, c, nil)
	}
	t.raise(ctx, alerts)
}

// closeLocked finalizes pos at exitPrice. b.mu must be held.
func (t *Tracker) closeLocked(b *bucket, pos *domain.Position, exitPrice float64, reason domain.CloseReason) (domain.Position, pendingAlert) {
	now := t.cfg.Now().UTC()
	exit := exitPrice
	pos.CurrentPrice = exitPrice
	pos.UnrealizedPnL, pos.UnrealizedPnLPercent = evaluator.PnL(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity, pos.Commission)
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &now
	pos.ExitPrice = &exit
	pos.CloseReason = reason
	t.removeLocked(b, pos)
	closed := pos.Clone()
	return closed, closeAlert(closed, reason)
}

// removeLocked drops pos from the active set and tears down the symbol's
// subscription when no other position needs it. b.mu must be held.
func (t *Tracker) removeLocked(b *bucket, pos *domain.Position) {
	delete(b.positions, pos.ID)
	t.mu.Lock()
	delete(t.index, pos.ID)
	t.mu.Unlock()
	if len(b.positions) == 0 {
		t.subs.Unsubscribe(pos.Symbol)
	}
}

// afterRemove runs the side effects of a position leaving the active set.
// It must be called without holding any bucket lock.
func (t *Tracker) afterRemove(ctx context.Context, pos domain.Position, alerts []pendingAlert) {
	t.flusher.Mark()
	metrics.ActivePositions.Dec()
	metrics.PositionsClosed.WithLabelValues(closedLabel(pos)).Inc()

	evt := events.PositionClosed
	if pos.Status == domain.PositionStatusCancelled {
		evt = events.PositionCancelled
	}
	t.cfg.Events.Publish(domain.ChannelPositions, evt, pos)

	t.logger.InfoContext(ctx, "tracker: position removed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("status", string(pos.Status)),
		slog.String("reason", string(pos.CloseReason)),
		slog.Float64("pnl", pos.UnrealizedPnL),
	)

	t.archive(pos)
	t.raise(ctx, alerts)
}

func (t *Tracker) archive(pos domain.Position) {
	if t.cfg.Archiver == nil {
		return
	}
	t.archives.Add(1)
	go func() {
		defer t.archives.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := t.cfg.Archiver.Archive(ctx, pos); err != nil {
			t.logger.WarnContext(ctx, "tracker: archive failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (t *Tracker) raise(ctx context.Context, alerts []pendingAlert) {
	for _, a := range alerts {
		t.alerts.Raise(ctx, a.pos, a.typ, a.title, a.message, a.severity)
	}
}

func closedLabel(pos domain.Position) string {
	if pos.Status == domain.PositionStatusCancelled {
		return "cancelled"
	}
	return string(pos.CloseReason)
}

// Position returns a copy of the active position id.
func (t *Tracker) Position(id string) (domain.Position, error) {
	b, err := t.bucketOf(id)
	if err != nil {
		return domain.Position{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos.Clone(), nil
}

// ActivePositions returns copies of every active position ordered by entry
// time.
func (t *Tracker) ActivePositions() []domain.Position {
	var out []domain.Position
	for _, b := range t.allBuckets() {
		b.mu.Lock()
		for _, p := range b.positions {
			out = append(out, p.Clone())
		}
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return positionLess(&out[i], &out[j]) })
	return out
}

// TotalUnrealizedPnL sums the unrealized PnL of every active position.
func (t *Tracker) TotalUnrealizedPnL() float64 {
	var total float64
	for _, b := range t.allBuckets() {
		b.mu.Lock()
		for _, p := range b.positions {
			total += p.UnrealizedPnL
		}
		b.mu.Unlock()
	}
	return total
}

// LastPrice returns the current price of the earliest active position on
// symbol.
func (t *Tracker) LastPrice(symbol string) (float64, bool) {
	t.mu.RLock()
	b, ok := t.buckets[symbol]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.positions) == 0 {
		return 0, false
	}
	return sortedPositions(b)[0].CurrentPrice, true
}

// Subscriptions lists the live feed subscriptions.
func (t *Tracker) Subscriptions() []Subscription {
	return t.subs.Subscriptions()
}

// Load restores the persisted active set and resubscribes its symbols.
// Malformed or inactive records are skipped; a missing or unreadable
// document leaves the tracker empty.
func (t *Tracker) Load(ctx context.Context) {
	raw, err := t.kv.Get(ctx, domain.KeyActivePositions)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		t.logger.WarnContext(ctx, "tracker: load positions failed, starting empty",
			slog.String("error", err.Error()),
		)
		return
	}

	records, err := decodeRecords(raw)
	if err != nil {
		t.logger.WarnContext(ctx, "tracker: stored positions malformed, starting empty",
			slog.String("error", err.Error()),
		)
		return
	}

	loaded, skipped := 0, 0
	for _, rec := range records {
		var pos domain.Position
		if err := json.Unmarshal(rec, &pos); err != nil || !restorable(pos) {
			skipped++
			continue
		}
		if pos.TrailingStop != nil && pos.TrailingDistance == 0 {
			pos.TrailingDistance = evaluator.TrailingDistance(pos.EntryPrice, pos.TrailingStop)
		}
		pos.UnrealizedPnL, pos.UnrealizedPnLPercent = evaluator.PnL(pos.Side, pos.EntryPrice, pos.CurrentPrice, pos.Quantity, pos.Commission)
		p := pos.Clone()

		b := t.bucket(p.Symbol)
		b.mu.Lock()
		b.positions[p.ID] = &p
		t.mu.Lock()
		t.index[p.ID] = p.Symbol
		t.mu.Unlock()
		t.subs.Subscribe(p.Symbol)
		b.mu.Unlock()
		loaded++
	}
	metrics.ActivePositions.Add(float64(loaded))

	t.logger.InfoContext(ctx, "tracker: positions restored",
		slog.Int("positions", loaded),
		slog.Int("skipped", skipped),
	)
}

// decodeRecords accepts both a JSON array and the legacy id-keyed object.
func decodeRecords(raw []byte) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var byID map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(byID))
	for k := range byID {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		list = append(list, byID[k])
	}
	return list, nil
}

func restorable(p domain.Position) bool {
	if p.ID == "" || p.Status != domain.PositionStatusActive {
		return false
	}
	if p.CurrentPrice == 0 {
		return false
	}
	spec := domain.PositionSpec{
		Symbol:       p.Symbol,
		Side:         p.Side,
		EntryPrice:   p.EntryPrice,
		Quantity:     p.Quantity,
		Commission:   p.Commission,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		TrailingStop: p.TrailingStop,
	}
	return spec.Validate() == nil && domain.ValidPrice(p.CurrentPrice)
}

func (t *Tracker) save(ctx context.Context) error {
	positions := t.ActivePositions()
	if positions == nil {
		positions = []domain.Position{}
	}
	raw, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("tracker: encode positions: %w", err)
	}
	if err := t.kv.Set(ctx, domain.KeyActivePositions, raw); err != nil {
		return fmt.Errorf("tracker: persist positions: %w", err)
	}
	return nil
}

// Flush writes the active set immediately.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.flusher.Flush(ctx)
}

// Run blocks until ctx is cancelled and then stops the tracker.
func (t *Tracker) Run(ctx context.Context) error {
	<-ctx.Done()
	t.Stop()
	return ctx.Err()
}

// Stop cancels every subscription, waits for in-flight archive uploads and
// writes pending state.
func (t *Tracker) Stop() {
	t.subs.Stop()
	t.archives.Wait()
	t.flusher.Stop()
	t.logger.Info("tracker: stopped")
}

func (t *Tracker) bucket(symbol string) *bucket {
	t.mu.RLock()
	b, ok := t.buckets[symbol]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok = t.buckets[symbol]; ok {
		return b
	}
	b = &bucket{positions: make(map[string]*domain.Position)}
	t.buckets[symbol] = b
	return b
}

func (t *Tracker) bucketOf(id string) (*bucket, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	symbol, ok := t.index[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t.buckets[symbol], nil
}

func (t *Tracker) allBuckets() []*bucket {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*bucket, 0, len(t.buckets))
	for _, b := range t.buckets {
		out = append(out, b)
	}
	return out
}

func sortedPositions(b *bucket) []*domain.Position {
	out := make([]*domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return positionLess(out[i], out[j]) })
	return out
}

func positionLess(a, b *domain.Position) bool {
	if !a.EntryTime.Equal(b.EntryTime) {
		return a.EntryTime.Before(b.EntryTime)
	}
	return a.ID < b.ID
}
