package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/metrics"
)

// Backoff bounds for reopening a failed or ended feed subscription.
const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// TickHandler applies one tick. ctx is cancelled once the subscription has
// been torn down; handlers must drop ticks that arrive after that.
type TickHandler func(ctx context.Context, tick domain.Tick)

type subscription struct {
	cancel context.CancelFunc
	since  time.Time
}

// Subscriber keeps at most one feed goroutine per symbol. Subscribe and
// Unsubscribe never block, so they may be called while holding other locks.
type Subscriber struct {
	feed    domain.PriceFeed
	handler TickHandler
	logger  *slog.Logger

	mu      sync.Mutex
	subs    map[string]*subscription
	base    context.Context
	stop    context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewSubscriber creates a Subscriber delivering ticks from feed to handler.
func NewSubscriber(feed domain.PriceFeed, handler TickHandler, logger *slog.Logger) *Subscriber {
	base, stop := context.WithCancel(context.Background())
	return &Subscriber{
		feed:    feed,
		handler: handler,
		logger:  logger.With(slog.String("component", "subscriber")),
		subs:    make(map[string]*subscription),
		base:    base,
		stop:    stop,
	}
}

// Subscribe starts streaming symbol. It is a no-op when symbol is already
// subscribed or the Subscriber has been stopped.
func (s *Subscriber) Subscribe(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if _, ok := s.subs[symbol]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	s.subs[symbol] = &subscription{cancel: cancel, since: time.Now()}
	metrics.ActiveSubscriptions.Set(float64(len(s.subs)))

	s.wg.Add(1)
	go s.run(ctx, symbol)
	s.logger.Info("subscriber: subscribed", slog.String("symbol", symbol))
}

// Unsubscribe stops streaming symbol. Unknown symbols are ignored.
func (s *Subscriber) Unsubscribe(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[symbol]
	if !ok {
		return
	}
	sub.cancel()
	delete(s.subs, symbol)
	metrics.ActiveSubscriptions.Set(float64(len(s.subs)))
	s.logger.Info("subscriber: unsubscribed", slog.String("symbol", symbol))
}

// Subscription describes one live feed subscription.
type Subscription struct {
	Symbol string    `json:"symbol"`
	Since  time.Time `json:"since"`
}

// Subscriptions returns the live subscriptions ordered by symbol.
func (s *Subscriber) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for sym, sub := range s.subs {
		out = append(out, Subscription{Symbol: sym, Since: sub.since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Stop cancels every subscription and waits for the goroutines to exit.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
	metrics.ActiveSubscriptions.Set(0)
}

func (s *Subscriber) run(ctx context.Context, symbol string) {
	defer s.wg.Done()

	backoff := minBackoff
	for {
		ticks, err := s.feed.Subscribe(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WarnContext(ctx, "subscriber: open feed failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
		} else {
			backoff = minBackoff
			for tick := range ticks {
				tick.Symbol = symbol
				s.handler(ctx, tick)
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.WarnContext(ctx, "subscriber: feed ended, reopening",
				slog.String("symbol", symbol),
			)
		}

		metrics.FeedReconnects.WithLabelValues(symbol).Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
