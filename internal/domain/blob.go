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

// Archiver moves aged records out of the primary store into cold storage.
type Archiver interface {
	// ArchiveAuditLog uploads audit entries created before the cutoff and
	// removes them from the primary store, returning the count archived.
	ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error)
}
