package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	cutoff time.Time
	count  int64
	calls  int
}

func (f *fakeArchiver) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	f.cutoff = before
	f.calls++
	return f.count, nil
}

func TestRun_UsesRetentionCutoff(t *testing.T) {
	arch := &fakeArchiver{count: 7}
	a := NewArchiver(arch, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 1, arch.calls)
	assert.WithinDuration(t, time.Now().UTC().Add(-30*24*time.Hour), arch.cutoff, time.Minute)
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 8, 30, 12, 30, 45, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC), next)

	next, err = nextCronTime("0 3 1 * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC), next)

	next, err = nextCronTime("* * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, after.Truncate(time.Minute).Add(time.Minute), next)

	_, err = nextCronTime("not a cron", after)
	assert.Error(t, err)
}

func TestParseCronField(t *testing.T) {
	f, err := parseCronField("*")
	require.NoError(t, err)
	assert.True(t, f.matches(59))

	f, err = parseCronField("1,15")
	require.NoError(t, err)
	assert.True(t, f.matches(15))
	assert.False(t, f.matches(2))

	_, err = parseCronField("x")
	assert.Error(t, err)
}
