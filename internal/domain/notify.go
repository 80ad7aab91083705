package domain

import "context"

// Gateway delivers a rendered notification to the user's devices.
type Gateway interface {
	Send(ctx context.Context, title, body string, metadata map[string]string) error
}
