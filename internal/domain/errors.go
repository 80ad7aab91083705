package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidPosition    = errors.New("invalid position parameters")
	ErrInvalidPreferences = errors.New("invalid preferences")
	ErrFeedClosed         = errors.New("price feed closed")
	ErrWSDisconnect       = errors.New("websocket disconnected")
)
