package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recv(t *testing.T, ch <-chan domain.Tick) domain.Tick {
	t.Helper()
	select {
	case tick, ok := <-ch:
		require.True(t, ok, "channel closed")
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
	return domain.Tick{}
}

func TestSimFeedWalksFromSeed(t *testing.T) {
	f := NewSimFeed(time.Millisecond)
	f.SetPriceSource(func(symbol string) (float64, bool) { return 1.1, symbol == "EURUSD" })

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.Subscribe(ctx, "EURUSD")
	require.NoError(t, err)

	tick := recv(t, ch)
	assert.Equal(t, "EURUSD", tick.Symbol)
	assert.InDelta(t, 1.1, tick.Price, 1.1*0.001)

	cancel()
	for range ch {
	}
}

func TestSimFeedDefaultSeed(t *testing.T) {
	f := NewSimFeed(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.Subscribe(ctx, "XYZ")
	require.NoError(t, err)
	assert.InDelta(t, defaultSimPrice, recv(t, ch).Price, defaultSimPrice*0.001)
}

func TestDecodeTick(t *testing.T) {
	tick, err := DecodeTick([]byte(`{"symbol":"BTCUSD","price":65000.5,"ts":"2026-10-19T10:00:00Z"}`), "ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSD", tick.Symbol)
	assert.Equal(t, 65000.5, tick.Price)
	assert.Equal(t, 2026, tick.Time.Year())

	tick, err = DecodeTick([]byte(" 1.2345\n"), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", tick.Symbol)
	assert.Equal(t, 1.2345, tick.Price)
	assert.False(t, tick.Time.IsZero())

	_, err = DecodeTick([]byte("abc"), "EURUSD")
	assert.Error(t, err)
	_, err = DecodeTick([]byte(`{"price":`), "EURUSD")
	assert.Error(t, err)
}

type chanBus struct {
	channel string
	ch      chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.channel = channel
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusFeed(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	f := NewBusFeed(bus, "", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := f.Subscribe(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "prices:EURUSD", bus.channel)

	bus.ch <- []byte("garbage")
	bus.ch <- []byte(`{"price": 1.1025}`)
	tick := recv(t, ch)
	assert.Equal(t, "EURUSD", tick.Symbol)
	assert.Equal(t, 1.1025, tick.Price)

	close(bus.ch)
	_, ok := <-ch
	assert.False(t, ok, "closed with the bus subscription")
}

func TestWSFeedSubscribesAndStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotCmd := make(chan subscribeCommand, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		gotCmd <- cmd
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribed"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"OTHER","price":5}`))
		_ = conn.WriteJSON(domain.Tick{Symbol: cmd.Symbol, Price: 1.1042})
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	f := NewWSFeed("ws"+strings.TrimPrefix(srv.URL, "http"), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.Subscribe(ctx, "EURUSD")
	require.NoError(t, err)

	assert.Equal(t, subscribeCommand{Action: "subscribe", Symbol: "EURUSD"}, <-gotCmd)
	tick := recv(t, ch)
	assert.Equal(t, "EURUSD", tick.Symbol)
	assert.Equal(t, 1.1042, tick.Price)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWSFeedDialError(t *testing.T) {
	f := NewWSFeed("ws://127.0.0.1:1/none", discardLogger())
	_, err := f.Subscribe(context.Background(), "EURUSD")
	assert.Error(t, err)
}
