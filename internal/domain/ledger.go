package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// QuestionStore persists question records. The registry is the only
// component that mutates questions; everything else reads.
type QuestionStore interface {
	Create(ctx context.Context, q Question) (int64, error)
	// Get returns the question, locking the row for the remainder of the
	// transaction when called inside one.
	Get(ctx context.Context, id int64) (Question, error)
	Update(ctx context.Context, q Question) error
	SetActive(ctx context.Context, id int64, active bool) error
	ListActive(ctx context.Context, opts ListOpts) ([]Question, error)
	Count(ctx context.Context) (int64, error)
}

// TradeStore persists the per-question trade history.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) (int64, error)
	CountByQuestion(ctx context.Context, questionID int64) (int64, error)
	ListByQuestion(ctx context.Context, questionID int64, opts ListOpts) ([]Trade, error)
	// RecentTraders returns the latest activity per distinct trader on the
	// question since the given time, newest first.
	RecentTraders(ctx context.Context, questionID int64, since time.Time) ([]TraderStamp, error)
}

// PoolStore persists funding pools and their contributions.
type PoolStore interface {
	Create(ctx context.Context, p Pool) (int64, error)
	// Get returns the pool including its contributions, locking the row for
	// the remainder of the transaction when called inside one.
	Get(ctx context.Context, id int64) (Pool, error)
	Update(ctx context.Context, p Pool) error
	// AddContribution adds amount to the contributor's net entry, creating
	// it if absent.
	AddContribution(ctx context.Context, poolID int64, contributor string, amount int64) error
	// SetContributionWithdrawn zeroes the contributor's entry and marks it
	// withdrawn; fails with ErrAlreadyWithdrawn if already done.
	SetContributionWithdrawn(ctx context.Context, poolID int64, contributor string) error
	// MarkRefunded marks the contributor's entry refunded exactly once;
	// fails with ErrAlreadyRefunded on a second attempt.
	MarkRefunded(ctx context.Context, poolID int64, contributor string) error
	ListByQuestion(ctx context.Context, questionID int64, opts ListOpts) ([]Pool, error)
}

// BalanceStore persists per-account settlement-currency balances. It is the
// core's view of the hosting ledger substrate.
type BalanceStore interface {
	Get(ctx context.Context, account string) (Account, error)
	// Deposit credits spendable funds (ledger-substrate stand-in).
	Deposit(ctx context.Context, account string, amount int64) error
	// Debit removes spendable funds; ErrInsufficientFunds if short.
	Debit(ctx context.Context, account string, amount int64) error
	// Credit adds spendable funds (payouts, refunds, treasury forwards).
	Credit(ctx context.Context, account string, amount int64) error
	// Accrue adds to the claimable fee balance.
	Accrue(ctx context.Context, account string, amount int64) error
	// Claim moves the full claimable balance to available and returns the
	// amount; ErrNothingToClaim when the claimable balance is zero.
	Claim(ctx context.Context, account string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// ListBefore returns entries created strictly before the cutoff, oldest
	// first.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
	// DeleteBefore removes entries created strictly before the cutoff and
	// returns how many were removed.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LedgerTx groups the record stores that participate in one atomic unit.
type LedgerTx interface {
	Questions() QuestionStore
	Trades() TradeStore
	Pools() PoolStore
	Balances() BalanceStore
	Audit() AuditStore
}

// Ledger is the adapter over the durable, sequentially-consistent store
// hosting the core. InTx runs fn inside a single atomic unit: every mutation
// fn performs is applied in full or not at all. Direct (non-InTx) store
// access auto-commits per call and is only suitable for reads.
type Ledger interface {
	LedgerTx
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}
