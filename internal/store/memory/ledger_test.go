package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	l := New()

	require.NoError(t, l.Balances().Deposit(ctx, "alice", 10_000000))

	boom := errors.New("boom")
	err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.Balances().Debit(ctx, "alice", 4_000000); err != nil {
			return err
		}
		if _, err := tx.Questions().Create(ctx, domain.Question{Text: "q", IsActive: true}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing from the failed transaction is visible.
	acct, err := l.Balances().Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000000), acct.Available)

	n, err := l.Questions().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	l := New()

	var id int64
	err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		id, err = tx.Questions().Create(ctx, domain.Question{Text: "q", IsActive: true})
		if err != nil {
			return err
		}
		return tx.Balances().Deposit(ctx, "bob", 1)
	})
	require.NoError(t, err)

	q, err := l.Questions().Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, q.IsActive)
}

func TestBalances_DebitInsufficient(t *testing.T) {
	ctx := context.Background()
	l := New()

	require.NoError(t, l.Balances().Deposit(ctx, "carol", 100))
	err := l.Balances().Debit(ctx, "carol", 101)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestBalances_ClaimIdempotence(t *testing.T) {
	ctx := context.Background()
	l := New()

	require.NoError(t, l.Balances().Accrue(ctx, "dave", 500))
	claimed, err := l.Balances().Claim(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(500), claimed)

	_, err = l.Balances().Claim(ctx, "dave")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	acct, err := l.Balances().Get(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.Available)
}

func TestPools_RefundAndWithdrawGuards(t *testing.T) {
	ctx := context.Background()
	l := New()

	id, err := l.Pools().Create(ctx, domain.Pool{QuestionID: 1, Creator: "eve", Status: domain.PoolStatusActive})
	require.NoError(t, err)
	require.NoError(t, l.Pools().AddContribution(ctx, id, "eve", 1_000000))

	require.NoError(t, l.Pools().MarkRefunded(ctx, id, "eve"))
	assert.ErrorIs(t, l.Pools().MarkRefunded(ctx, id, "eve"), domain.ErrAlreadyRefunded)

	assert.ErrorIs(t, l.Pools().MarkRefunded(ctx, id, "mallory"), domain.ErrNotFound)
}

func TestAudit_RetentionQueries(t *testing.T) {
	ctx := context.Background()
	l := New()

	require.NoError(t, l.Audit().Log(ctx, "deposit", map[string]any{"account": "alice"}))
	require.NoError(t, l.Audit().Log(ctx, "deposit", map[string]any{"account": "bob"}))
	require.NoError(t, l.Audit().Log(ctx, "fees_claimed", map[string]any{"account": "alice"}))

	cutoff := time.Now().Add(time.Minute)

	old, err := l.Audit().ListBefore(ctx, cutoff, 2)
	require.NoError(t, err)
	require.Len(t, old, 2, "limit caps the batch")
	assert.Equal(t, int64(1), old[0].ID, "oldest first")

	removed, err := l.Audit().DeleteBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	rest, err := l.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, rest)
}
