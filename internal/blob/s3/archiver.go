package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// archiveBatchSize bounds how many audit entries one archive run moves.
const archiveBatchSize = 10_000

// ArchiveImpl implements domain.Archiver by querying the ledger for aged
// audit entries, serializing them to JSONL, uploading the result to S3, and
// pruning the archived rows from the primary store.
type ArchiveImpl struct {
	writer domain.BlobWriter
	ledger domain.Ledger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, ledger domain.Ledger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		ledger: ledger,
	}
}

// ArchiveAuditLog uploads audit entries created before the cutoff to S3 at
// archive/audit/YYYY-MM.jsonl and deletes them from the primary store. The
// upload happens before the delete; a failed delete leaves the entries in
// place and the next run re-archives them under the same key.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.ledger.Audit().ListBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	// Prune only up to the last uploaded entry, not the cutoff: entries past
	// the batch limit stay for the next run.
	pruneBefore := entries[len(entries)-1].CreatedAt.Add(time.Nanosecond)
	if pruneBefore.After(before) {
		pruneBefore = before
	}

	var count int64
	err = a.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		count, err = tx.Audit().DeleteBefore(ctx, pruneBefore)
		if err != nil {
			return err
		}
		return tx.Audit().Log(ctx, "audit_archived", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		})
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit prune: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/audit/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
