// Package feed provides the price sources a tracker can subscribe to.
package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// defaultSimPrice seeds symbols with no known price.
const defaultSimPrice = 100.0

// PriceSource returns the last known price of symbol.
type PriceSource func(symbol string) (float64, bool)

// SimFeed emits a random walk of at most ±0.1% per step for each subscribed
// symbol. It is meant for demos and local runs without a market data source.
type SimFeed struct {
	interval time.Duration

	mu     sync.Mutex
	source PriceSource
	rng    *rand.Rand
}

// NewSimFeed creates a SimFeed stepping every interval.
func NewSimFeed(interval time.Duration) *SimFeed {
	if interval <= 0 {
		interval = time.Second
	}
	return &SimFeed{
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetPriceSource sets where new subscriptions take their starting price.
func (f *SimFeed) SetPriceSource(src PriceSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = src
}

// Subscribe starts a walk for symbol. The channel closes when ctx ends.
func (f *SimFeed) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, error) {
	price := f.seed(symbol)
	out := make(chan domain.Tick, 1)

	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				price *= 1 + f.step()
				select {
				case out <- domain.Tick{Symbol: symbol, Price: price, Time: now.UTC()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *SimFeed) seed(symbol string) float64 {
	f.mu.Lock()
	src := f.source
	f.mu.Unlock()
	if src != nil {
		if p, ok := src(symbol); ok && domain.ValidPrice(p) {
			return p
		}
	}
	return defaultSimPrice
}

// step returns a relative change in [-0.001, 0.001).
func (f *SimFeed) step() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (f.rng.Float64() - 0.5) * 0.002
}

var _ domain.PriceFeed = (*SimFeed)(nil)
