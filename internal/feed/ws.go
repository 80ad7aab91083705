package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is sent once per connection.
type subscribeCommand struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

// WSFeed streams ticks from a WebSocket endpoint, one connection per
// symbol. A dropped connection is re-established with exponential backoff
// while the subscription is live.
type WSFeed struct {
	url    string
	dialer websocket.Dialer
	logger *slog.Logger
}

// NewWSFeed creates a WSFeed for the endpoint at url.
func NewWSFeed(url string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:    url,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger: logger.With(slog.String("component", "ws_feed")),
	}
}

// Subscribe dials the endpoint and subscribes to symbol. The first dial
// error is returned to the caller; later disconnects are retried until ctx
// is cancelled.
func (f *WSFeed) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, error) {
	conn, err := f.connect(ctx, symbol)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Tick, 16)
	go func() {
		defer close(out)
		delay := reconnectDelay
		for {
			err := f.readLoop(ctx, conn, symbol, out)
			if ctx.Err() != nil {
				return
			}
			f.logger.WarnContext(ctx, "ws feed disconnected, reconnecting",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			metrics.FeedReconnects.WithLabelValues(symbol).Inc()

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				conn, err = f.connect(ctx, symbol)
				if err == nil {
					delay = reconnectDelay
					break
				}
				delay *= 2
				if delay > maxReconnectDelay {
					delay = maxReconnectDelay
				}
			}
		}
	}()
	return out, nil
}

func (f *WSFeed) connect(ctx context.Context, symbol string) (*websocket.Conn, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed/ws: connect: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Action: "subscribe", Symbol: symbol}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("feed/ws: subscribe %s: %w", symbol, err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return conn, nil
}

// readLoop forwards ticks until the connection fails or ctx ends. It always
// closes conn before returning.
func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn, symbol string, out chan<- domain.Tick) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		tick, err := DecodeTick(message, symbol)
		if err != nil || tick.Symbol != symbol || !domain.ValidPrice(tick.Price) {
			metrics.TicksSkipped.WithLabelValues("decode").Inc()
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ domain.PriceFeed = (*WSFeed)(nil)
