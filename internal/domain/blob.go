package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports aged records to cold storage. It never deletes from the
// primary store; positions are the trade ledger and closed rows stay
// queryable in Postgres.
type Archiver interface {
	// ArchivePositions exports positions closed strictly before the cutoff
	// and returns how many were written.
	ArchivePositions(ctx context.Context, before time.Time) (int64, error)
}
