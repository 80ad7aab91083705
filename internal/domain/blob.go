package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// PositionArchiver stores positions that have left the active set.
type PositionArchiver interface {
	Archive(ctx context.Context, pos Position) error
}

// PositionHistory lists positions that have left the active set.
type PositionHistory interface {
	Recent(ctx context.Context, symbol string, limit int) ([]Position, error)
}
