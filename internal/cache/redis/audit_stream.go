package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// AuditStream implements domain.AuditStore by appending JSON entries to a
// Redis stream. It is used when no database is configured.
type AuditStream struct {
	bus    domain.SignalBus
	stream string
}

// NewAuditStream creates an AuditStream writing to stream.
func NewAuditStream(bus domain.SignalBus, stream string) *AuditStream {
	return &AuditStream{bus: bus, stream: stream}
}

// Log appends one entry.
func (a *AuditStream) Log(ctx context.Context, event string, detail map[string]any) error {
	payload, err := json.Marshal(map[string]any{
		"event":      event,
		"detail":     detail,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("redis: marshal audit entry: %w", err)
	}
	return a.bus.StreamAppend(ctx, a.stream, payload)
}

var _ domain.AuditStore = (*AuditStream)(nil)
