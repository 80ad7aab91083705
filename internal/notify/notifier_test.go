package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name  string
	err   error
	calls int
	meta  map[string]string
}

func (r *recordingSender) Send(_ context.Context, _, _ string, metadata map[string]string) error {
	r.calls++
	r.meta = metadata
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFansOutDespiteFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, discard())

	err := n.Send(context.Background(), "Take Profit Hit!", "EURUSD closed", map[string]string{"symbol": "EURUSD"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
	assert.Equal(t, "EURUSD", good.meta["symbol"])
	assert.Equal(t, []string{"bad", "good"}, n.Senders())
}

func TestNotifierWithoutSenders(t *testing.T) {
	assert.NoError(t, NewNotifier(nil, discard()).Send(context.Background(), "t", "m", nil))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL

	require.NoError(t, s.Send(context.Background(), "Stop Loss Hit", "closed", map[string]string{"symbol": "BTCUSD"}))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Stop Loss Hit*\nclosed\n#BTCUSD", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m", map[string]string{"severity": "high"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

type fakeMulticast struct {
	msg  *messaging.MulticastMessage
	resp *messaging.BatchResponse
}

func (f *fakeMulticast) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.msg = m
	return f.resp, nil
}

func TestFCMSenderPriority(t *testing.T) {
	client := &fakeMulticast{resp: &messaging.BatchResponse{SuccessCount: 2}}
	s := newFCMSender(client, []string{"a", "b"}, "")

	require.NoError(t, s.Send(context.Background(), "Loss Alert!", "down 6%", map[string]string{"severity": "high"}))
	assert.Equal(t, "high", client.msg.Android.Priority)
	assert.Equal(t, "trade_alerts", client.msg.Android.Notification.ChannelID)
	assert.Equal(t, []string{"a", "b"}, client.msg.Tokens)

	require.NoError(t, s.Send(context.Background(), "Profit Alert!", "up 5%", map[string]string{"severity": "medium"}))
	assert.Equal(t, "normal", client.msg.Android.Priority)

	client.resp = &messaging.BatchResponse{SuccessCount: 1, FailureCount: 1}
	assert.Error(t, s.Send(context.Background(), "t", "m", nil))
}
