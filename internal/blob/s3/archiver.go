package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/snipekit/sniperbot/internal/domain"
)

// PositionArchiveStore is the narrow read surface the archiver needs. The
// Postgres position store satisfies it; the full domain.PositionStore
// interface is deliberately not required here.
type PositionArchiveStore interface {
	// ListClosedBefore returns positions closed strictly before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// PositionArchiver implements domain.Archiver by exporting closed positions
// as JSONL objects under archive/positions/. Rows are never deleted from the
// primary store; the export is an append-only cold copy.
type PositionArchiver struct {
	writer    domain.BlobWriter
	positions PositionArchiveStore
}

var _ domain.Archiver = (*PositionArchiver)(nil)

// NewPositionArchiver creates a PositionArchiver.
func NewPositionArchiver(writer domain.BlobWriter, positions PositionArchiveStore) *PositionArchiver {
	return &PositionArchiver{
		writer:    writer,
		positions: positions,
	}
}

// ArchivePositions exports all positions closed before the cutoff to
// archive/positions/YYYY-MM.jsonl and returns the count written. Re-running
// with the same cutoff rewrites the object with identical content, so the
// export is safe to repeat.
func (a *PositionArchiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	return int64(len(positions)), nil
}

// archivePath builds the object key for one export, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
