package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// balanceStore implements domain.BalanceStore. Rows are created lazily on
// the first credit; the CHECK constraints make negative balances impossible
// even if a guard here regresses.
type balanceStore struct {
	q querier
}

func (s *balanceStore) Get(ctx context.Context, account string) (domain.Account, error) {
	a := domain.Account{ID: account}
	err := s.q.QueryRow(ctx,
		`SELECT available, claimable FROM accounts WHERE id = $1`,
		account).Scan(&a.Available, &a.Claimable)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown accounts read as zero balances.
		return a, nil
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", account, err)
	}
	return a, nil
}

func (s *balanceStore) Deposit(ctx context.Context, account string, amount int64) error {
	return s.credit(ctx, account, amount, "deposit")
}

func (s *balanceStore) Credit(ctx context.Context, account string, amount int64) error {
	return s.credit(ctx, account, amount, "credit")
}

func (s *balanceStore) credit(ctx context.Context, account string, amount int64, op string) error {
	const query = `
		INSERT INTO accounts (id, available) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			available  = accounts.available + EXCLUDED.available,
			updated_at = NOW()`

	if _, err := s.q.Exec(ctx, query, account, amount); err != nil {
		return fmt.Errorf("postgres: %s %d to %s: %w", op, amount, account, err)
	}
	return nil
}

func (s *balanceStore) Debit(ctx context.Context, account string, amount int64) error {
	const query = `
		UPDATE accounts
		SET available = available - $2, updated_at = NOW()
		WHERE id = $1 AND available >= $2`

	tag, err := s.q.Exec(ctx, query, account, amount)
	if err != nil {
		return fmt.Errorf("postgres: debit %d from %s: %w", amount, account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", domain.ErrInsufficientFunds, account)
	}
	return nil
}

func (s *balanceStore) Accrue(ctx context.Context, account string, amount int64) error {
	const query = `
		INSERT INTO accounts (id, claimable) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			claimable  = accounts.claimable + EXCLUDED.claimable,
			updated_at = NOW()`

	if _, err := s.q.Exec(ctx, query, account, amount); err != nil {
		return fmt.Errorf("postgres: accrue %d to %s: %w", amount, account, err)
	}
	return nil
}

func (s *balanceStore) Claim(ctx context.Context, account string) (int64, error) {
	const query = `
		WITH due AS (
			SELECT claimable FROM accounts
			WHERE id = $1 AND claimable > 0
			FOR UPDATE
		)
		UPDATE accounts
		SET available = available + due.claimable, claimable = 0, updated_at = NOW()
		FROM due
		WHERE accounts.id = $1
		RETURNING due.claimable`

	var claimed int64
	err := s.q.QueryRow(ctx, query, account).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: account %s", domain.ErrNothingToClaim, account)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: claim for %s: %w", account, err)
	}
	return claimed, nil
}
