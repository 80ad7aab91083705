// Package events publishes position and alert events to the signal bus off
// the tick path.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

const publishTimeout = 5 * time.Second

// Event names carried in the "event" field.
const (
	PositionOpened    = "position_opened"
	PositionClosed    = "position_closed"
	PositionCancelled = "position_cancelled"
	AlertRaised       = "alert_raised"
)

type message struct {
	channel string
	payload []byte
}

// Publisher queues events and writes them to the bus from Run. A nil
// *Publisher, or one without a bus, discards everything.
type Publisher struct {
	bus    domain.SignalBus
	queue  chan message
	logger *slog.Logger
}

// NewPublisher creates a Publisher. bus may be nil.
func NewPublisher(bus domain.SignalBus, size int, logger *slog.Logger) *Publisher {
	if size <= 0 {
		size = 512
	}
	return &Publisher{
		bus:    bus,
		queue:  make(chan message, size),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Publish enqueues {"event": name, "data": data} for channel. It never
// blocks; when the queue is full the event is dropped.
func (p *Publisher) Publish(channel, name string, data any) {
	if p == nil || p.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event": name,
		"data":  data,
		"ts":    time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("events: marshal failed",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
		return
	}
	select {
	case p.queue <- message{channel: channel, payload: payload}:
	default:
		p.logger.Warn("events: queue full, dropping", slog.String("event", name))
	}
}

// Run writes queued events until ctx is cancelled, then drains the queue.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case m := <-p.queue:
			p.write(ctx, m)
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case m := <-p.queue:
			p.write(context.Background(), m)
		default:
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, m message) {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.bus.Publish(pubCtx, m.channel, m.payload); err != nil {
		p.logger.WarnContext(ctx, "events: publish failed",
			slog.String("channel", m.channel),
			slog.String("error", err.Error()),
		)
	}
}
