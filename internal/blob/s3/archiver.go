package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// Archiver implements domain.PositionArchiver by writing each position that
// leaves the active set as a JSON object. When an audit store is set, every
// archived object is recorded there too.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	prefix string
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, prefix string) *Archiver {
	if prefix == "" {
		prefix = "positions"
	}
	return &Archiver{writer: writer, audit: audit, prefix: prefix}
}

// Archive uploads pos under <prefix>/<status>/YYYY/MM/DD/<id>.json.
func (a *Archiver) Archive(ctx context.Context, pos domain.Position) error {
	buf, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("s3blob: marshal position %s: %w", pos.ID, err)
	}

	path := archivePath(a.prefix, pos)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive position %s: %w", pos.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.position", map[string]any{
			"path":        path,
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
			"status":      string(pos.Status),
		}); err != nil {
			return fmt.Errorf("s3blob: archive position audit log: %w", err)
		}
	}
	return nil
}

func archivePath(prefix string, pos domain.Position) string {
	at := time.Now().UTC()
	if pos.ClosedAt != nil {
		at = pos.ClosedAt.UTC()
	}
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s.json",
		prefix, pos.Status, at.Year(), at.Month(), at.Day(), pos.ID)
}

var _ domain.PositionArchiver = (*Archiver)(nil)
