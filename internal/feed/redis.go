package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/metrics"
)

// BusFeed reads ticks published on the signal bus. Each symbol has its own
// channel, "<prefix><symbol>". Payloads are JSON ticks or bare prices.
type BusFeed struct {
	bus    domain.SignalBus
	prefix string
	logger *slog.Logger
}

// NewBusFeed creates a BusFeed. An empty prefix selects "prices:".
func NewBusFeed(bus domain.SignalBus, prefix string, logger *slog.Logger) *BusFeed {
	if prefix == "" {
		prefix = "prices:"
	}
	return &BusFeed{
		bus:    bus,
		prefix: prefix,
		logger: logger.With(slog.String("component", "bus_feed")),
	}
}

// Subscribe opens the pub/sub subscription for symbol.
func (f *BusFeed) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, error) {
	raw, err := f.bus.Subscribe(ctx, f.prefix+symbol)
	if err != nil {
		return nil, fmt.Errorf("feed: subscribe %s: %w", symbol, err)
	}

	out := make(chan domain.Tick, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-raw:
				if !ok {
					return
				}
				tick, err := DecodeTick(data, symbol)
				if err != nil {
					metrics.TicksSkipped.WithLabelValues("decode").Inc()
					f.logger.WarnContext(ctx, "feed: bad tick payload",
						slog.String("symbol", symbol),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// DecodeTick parses a JSON tick ({"symbol","price","ts"}) or a bare number.
// Missing symbol and time are filled from symbol and the current time.
func DecodeTick(data []byte, symbol string) (domain.Tick, error) {
	var tick domain.Tick
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &tick); err != nil {
			return domain.Tick{}, fmt.Errorf("decode tick: %w", err)
		}
	} else {
		p, err := strconv.ParseFloat(strings.Trim(trimmed, `"`), 64)
		if err != nil {
			return domain.Tick{}, fmt.Errorf("decode tick: %w", err)
		}
		tick.Price = p
	}
	if tick.Symbol == "" {
		tick.Symbol = symbol
	}
	if tick.Time.IsZero() {
		tick.Time = time.Now().UTC()
	}
	return tick, nil
}

var _ domain.PriceFeed = (*BusFeed)(nil)
