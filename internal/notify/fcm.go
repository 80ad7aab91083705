package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// multicastClient is the subset of *messaging.Client used by FCMSender.
type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMConfig configures push delivery through Firebase Cloud Messaging.
type FCMConfig struct {
	CredentialsFile string
	CredentialsJSON string
	DeviceTokens    []string
	ChannelID       string
}

// FCMSender pushes notifications to registered devices.
type FCMSender struct {
	client    multicastClient
	tokens    []string
	channelID string
}

// NewFCMSender initialises a Firebase app from the configured credentials
// and returns a sender for its messaging client.
func NewFCMSender(ctx context.Context, cfg FCMConfig) (*FCMSender, error) {
	var opt option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opt = option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	default:
		return nil, fmt.Errorf("fcm: no credentials configured")
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("fcm: init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: messaging client: %w", err)
	}
	return newFCMSender(client, cfg.DeviceTokens, cfg.ChannelID), nil
}

func newFCMSender(client multicastClient, tokens []string, channelID string) *FCMSender {
	if channelID == "" {
		channelID = "trade_alerts"
	}
	return &FCMSender{client: client, tokens: tokens, channelID: channelID}
}

// Send pushes to every device token. High and critical alerts use high
// Android priority. Partial failures are reported as an error.
func (f *FCMSender) Send(ctx context.Context, title, message string, metadata map[string]string) error {
	if len(f.tokens) == 0 {
		return nil
	}

	priority, notifPriority := "normal", messaging.PriorityDefault
	if sev := metadata["severity"]; sev == "high" || sev == "critical" {
		priority, notifPriority = "high", messaging.PriorityHigh
	}

	resp, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: f.tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  message,
		},
		Data: metadata,
		Android: &messaging.AndroidConfig{
			Priority: priority,
			Notification: &messaging.AndroidNotification{
				ChannelID: f.channelID,
				Priority:  notifPriority,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("fcm: send multicast: %w", err)
	}
	if resp.FailureCount > 0 {
		return fmt.Errorf("fcm: %d of %d deliveries failed", resp.FailureCount, len(f.tokens))
	}
	return nil
}

// Name returns the sender identifier.
func (f *FCMSender) Name() string {
	return "fcm"
}
