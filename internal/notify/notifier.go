// Package notify delivers rendered notifications to every configured channel
// (Telegram, Discord, Firebase Cloud Messaging). It is the notification
// gateway: it never decides whether to send, only how.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/metrics"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification. metadata carries structured context
	// (symbol, alert type, position id) for channels that can use it.
	Send(ctx context.Context, title, message string, metadata map[string]string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier fans a notification out to all senders. A failing sender does not
// prevent delivery to the others.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders.
func NewNotifier(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Senders returns the names of the configured senders.
func (n *Notifier) Senders() []string {
	names := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		names = append(names, s.Name())
	}
	return names
}

// Send delivers to every sender and returns a combined error listing the
// senders that failed.
func (n *Notifier) Send(ctx context.Context, title, message string, metadata map[string]string) error {
	if len(n.senders) == 0 {
		n.logger.DebugContext(ctx, "no senders configured, notification dropped",
			slog.String("title", title),
		)
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message, metadata); err != nil {
			metrics.GatewayErrors.WithLabelValues(s.Name()).Inc()
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

var _ domain.Gateway = (*Notifier)(nil)
