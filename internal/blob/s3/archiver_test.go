package s3blob

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	memstore "github.com/alanyoungcy/opinioncore/internal/store/memory"
)

type captureWriter struct {
	path        string
	contentType string
	data        []byte
	puts        int
}

func (w *captureWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.path = path
	w.contentType = contentType
	w.data = buf
	w.puts++
	return nil
}

func TestArchiveAuditLog(t *testing.T) {
	ctx := context.Background()
	ledger := memstore.New()
	writer := &captureWriter{}
	arch := NewArchiver(writer, ledger)

	require.NoError(t, ledger.Audit().Log(ctx, "deposit", map[string]any{"account": "alice"}))
	require.NoError(t, ledger.Audit().Log(ctx, "deposit", map[string]any{"account": "bob"}))
	require.NoError(t, ledger.Audit().Log(ctx, "fees_claimed", map[string]any{"account": "alice"}))

	cutoff := time.Now().Add(time.Minute)
	count, err := arch.ArchiveAuditLog(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	assert.Equal(t, 1, writer.puts)
	assert.Equal(t, archivePath("audit", cutoff), writer.path)
	assert.Equal(t, "application/x-ndjson", writer.contentType)
	assert.Equal(t, 3, bytes.Count(writer.data, []byte("\n")), "one JSON line per entry")

	// The pruned entries are replaced by a single archive marker.
	rest, err := ledger.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "audit_archived", rest[0].Event)
}

func TestArchiveAuditLog_NothingToArchive(t *testing.T) {
	ctx := context.Background()
	writer := &captureWriter{}
	arch := NewArchiver(writer, memstore.New())

	count, err := arch.ArchiveAuditLog(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, writer.puts, "no upload for an empty batch")
}
