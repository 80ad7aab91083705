// Package persist coalesces bursts of state changes into single writes.
package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradewatch/internal/metrics"
)

// flushTimeout bounds a single write.
const flushTimeout = 10 * time.Second

// FlushFunc writes the current state.
type FlushFunc func(ctx context.Context) error

// Debouncer calls its FlushFunc at most once per delay window after Mark.
// Writes happen on a timer goroutine so callers never block on I/O.
type Debouncer struct {
	name   string
	delay  time.Duration
	flush  FlushFunc
	logger *slog.Logger

	mu      sync.Mutex
	dirty   bool
	stopped bool
	timer   *time.Timer

	flushMu sync.Mutex
	wg      sync.WaitGroup
}

// NewDebouncer creates a Debouncer labelled name (used in logs and metrics).
func NewDebouncer(name string, delay time.Duration, flush FlushFunc, logger *slog.Logger) *Debouncer {
	if delay <= 0 {
		delay = time.Second
	}
	return &Debouncer{
		name:   name,
		delay:  delay,
		flush:  flush,
		logger: logger.With(slog.String("component", "persist"), slog.String("key", name)),
	}
}

// Mark records that state changed and schedules a write if none is pending.
func (d *Debouncer) Mark() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dirty = true
	if d.stopped || d.timer != nil {
		return
	}
	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	defer d.wg.Done()

	d.mu.Lock()
	d.timer = nil
	dirty := d.dirty
	d.dirty = false
	d.mu.Unlock()

	if dirty {
		d.run()
	}
}

// Stop cancels any pending timer, waits for an in-flight write and performs
// a final write if changes are still pending. Later Marks are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.timer = nil
	dirty := d.dirty
	d.dirty = false
	d.mu.Unlock()

	d.wg.Wait()
	if dirty {
		d.run()
	}
}

// Flush writes immediately, regardless of pending state.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	return d.flush(ctx)
}

func (d *Debouncer) run() {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	start := time.Now()
	err := d.flush(ctx)
	metrics.FlushDuration.WithLabelValues(d.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FlushErrors.WithLabelValues(d.name).Inc()
		d.logger.Error("persist: flush failed", slog.String("error", err.Error()))
		return
	}
	d.logger.Debug("persist: flushed", slog.Duration("took", time.Since(start)))
}
