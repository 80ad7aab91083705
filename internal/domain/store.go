package domain

import (
	"context"
	"time"
)

// Persisted keys. Values are JSON documents.
const (
	KeyActivePositions = "activeTrades"
	KeyAlertHistory    = "tradeAlertHistory"
	KeyPreferences     = "tradeNotificationSettings"
	KeyLegacyPrefs     = "pushNotificationPreferences"
	KeyProfile         = "personalizationProfile"
)

// KVStore is the durable key-value storage behind every persisted document.
// Get returns ErrNotFound when the key has never been written.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// AuditStore records notable events such as notification delivery attempts.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// AuditEntry is a single recorded event.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}
