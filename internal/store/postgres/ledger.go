package postgres

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so every
// store runs unchanged inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger implements domain.Ledger on a pgx connection pool.
type Ledger struct {
	client *Client
}

// NewLedger creates a Ledger over the client's pool.
func NewLedger(client *Client) *Ledger {
	return &Ledger{client: client}
}

func (l *Ledger) Questions() domain.QuestionStore { return &questionStore{q: l.client.pool} }
func (l *Ledger) Trades() domain.TradeStore       { return &tradeStore{q: l.client.pool} }
func (l *Ledger) Pools() domain.PoolStore         { return &poolStore{q: l.client.pool} }
func (l *Ledger) Balances() domain.BalanceStore   { return &balanceStore{q: l.client.pool} }
func (l *Ledger) Audit() domain.AuditStore        { return &auditStore{q: l.client.pool} }

// InTx runs fn inside one database transaction. Question and pool Get calls
// made through the transaction take row locks, so concurrent trades against
// the same question serialize at the database even without the cache lock.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := l.client.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) Questions() domain.QuestionStore {
	return &questionStore{q: t.tx, forUpdate: true}
}
func (t *ledgerTx) Trades() domain.TradeStore { return &tradeStore{q: t.tx} }
func (t *ledgerTx) Pools() domain.PoolStore   { return &poolStore{q: t.tx, forUpdate: true} }
func (t *ledgerTx) Balances() domain.BalanceStore {
	return &balanceStore{q: t.tx}
}
func (t *ledgerTx) Audit() domain.AuditStore { return &auditStore{q: t.tx} }

// pageArgs maps ListOpts onto LIMIT/OFFSET; a zero limit means unbounded.
func pageArgs(opts domain.ListOpts) (int64, int64) {
	limit := int64(opts.Limit)
	if limit <= 0 {
		limit = math.MaxInt32
	}
	offset := int64(opts.Offset)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
