package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

type tickLog struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (l *tickLog) handle(_ context.Context, t domain.Tick) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = append(l.ticks, t)
}

func (l *tickLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ticks)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	feed := newFakeFeed()
	s := NewSubscriber(feed, (&tickLog{}).handle, discardLogger())
	defer s.Stop()

	s.Subscribe("EURUSD")
	s.Subscribe("EURUSD")
	assert.Len(t, s.Subscriptions(), 1)
	require.Eventually(t, func() bool { return feed.opens("EURUSD") == 1 }, time.Second, 5*time.Millisecond)

	s.Unsubscribe("EURUSD")
	s.Unsubscribe("EURUSD")
	s.Unsubscribe("GBPUSD")
	assert.Empty(t, s.Subscriptions())
}

func TestSubscriberDeliversTicksInOrder(t *testing.T) {
	feed := newFakeFeed()
	log := &tickLog{}
	s := NewSubscriber(feed, log.handle, discardLogger())
	defer s.Stop()

	s.Subscribe("EURUSD")
	require.Eventually(t, func() bool { return feed.input("EURUSD") != nil }, time.Second, 5*time.Millisecond)

	in := feed.input("EURUSD")
	for _, p := range []float64{1.1, 1.2, 1.3} {
		in <- domain.Tick{Price: p}
	}
	require.Eventually(t, func() bool { return log.len() == 3 }, time.Second, 5*time.Millisecond)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, 1.1, log.ticks[0].Price)
	assert.Equal(t, 1.3, log.ticks[2].Price)
	assert.Equal(t, "EURUSD", log.ticks[0].Symbol, "symbol taken from the subscription")
}

func TestSubscriberRetriesFailedOpen(t *testing.T) {
	feed := newFakeFeed()
	feed.failFor = 1
	s := NewSubscriber(feed, (&tickLog{}).handle, discardLogger())
	defer s.Stop()

	s.Subscribe("BTCUSD")
	require.Eventually(t, func() bool { return feed.opens("BTCUSD") == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return feed.input("BTCUSD") != nil }, time.Second, 5*time.Millisecond)
}

func TestStopCancelsEverything(t *testing.T) {
	feed := newFakeFeed()
	s := NewSubscriber(feed, (&tickLog{}).handle, discardLogger())

	s.Subscribe("AAA")
	s.Subscribe("BBB")
	s.Stop()

	assert.Empty(t, s.Subscriptions())
	s.Subscribe("CCC")
	assert.Empty(t, s.Subscriptions(), "subscribe after stop is ignored")
}
