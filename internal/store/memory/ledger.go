// Package memory implements the domain ledger in process memory. It backs
// dev mode and the service tests with the same transactional semantics as the
// postgres adapter: InTx applies every mutation in full or not at all, by
// running the function against a deep copy of the state and swapping it in
// only on success.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// Ledger is an in-memory domain.Ledger. A single mutex gives every InTx
// block (and every direct store call) full ordering, matching the
// sequentially-consistent substrate the core assumes.
type Ledger struct {
	mu sync.Mutex
	st *state
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{st: newState()}
}

// InTx implements domain.Ledger.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	work := l.st.clone()
	if err := fn(&session{st: work}); err != nil {
		return err
	}
	l.st = work
	return nil
}

func (l *Ledger) Questions() domain.QuestionStore { return questionStore{l: l} }
func (l *Ledger) Trades() domain.TradeStore       { return tradeStore{l: l} }
func (l *Ledger) Pools() domain.PoolStore         { return poolStore{l: l} }
func (l *Ledger) Balances() domain.BalanceStore   { return balanceStore{l: l} }
func (l *Ledger) Audit() domain.AuditStore        { return auditStore{l: l} }

// session exposes the stores of one in-flight transaction. No locking: the
// ledger mutex is held for the whole InTx call.
type session struct {
	st *state
}

func (s *session) Questions() domain.QuestionStore { return questionStore{st: s.st} }
func (s *session) Trades() domain.TradeStore       { return tradeStore{st: s.st} }
func (s *session) Pools() domain.PoolStore         { return poolStore{st: s.st} }
func (s *session) Balances() domain.BalanceStore   { return balanceStore{st: s.st} }
func (s *session) Audit() domain.AuditStore        { return auditStore{st: s.st} }

// state is the full ledger content.
type state struct {
	questions      map[int64]domain.Question
	nextQuestionID int64
	trades         []domain.Trade
	nextTradeID    int64
	pools          map[int64]domain.Pool
	nextPoolID     int64
	accounts       map[string]domain.Account
	audit          []domain.AuditEntry
	nextAuditID    int64
}

func newState() *state {
	return &state{
		questions:      map[int64]domain.Question{},
		nextQuestionID: 1,
		nextTradeID:    1,
		pools:          map[int64]domain.Pool{},
		nextPoolID:     1,
		accounts:       map[string]domain.Account{},
		nextAuditID:    1,
	}
}

func (s *state) clone() *state {
	c := &state{
		questions:      make(map[int64]domain.Question, len(s.questions)),
		nextQuestionID: s.nextQuestionID,
		trades:         append([]domain.Trade(nil), s.trades...),
		nextTradeID:    s.nextTradeID,
		pools:          make(map[int64]domain.Pool, len(s.pools)),
		nextPoolID:     s.nextPoolID,
		accounts:       make(map[string]domain.Account, len(s.accounts)),
		audit:          append([]domain.AuditEntry(nil), s.audit...),
		nextAuditID:    s.nextAuditID,
	}
	for id, q := range s.questions {
		c.questions[id] = copyQuestion(q)
	}
	for id, p := range s.pools {
		c.pools[id] = copyPool(p)
	}
	for id, a := range s.accounts {
		c.accounts[id] = a
	}
	return c
}

func copyQuestion(q domain.Question) domain.Question {
	q.Categories = append([]string(nil), q.Categories...)
	return q
}

func copyPool(p domain.Pool) domain.Pool {
	p.Contributions = append([]domain.Contribution(nil), p.Contributions...)
	return p
}

// run executes fn against the live state under the ledger mutex (direct
// access) or against the transaction state without locking.
func run(l *Ledger, st *state, fn func(st *state) error) error {
	if l != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		return fn(l.st)
	}
	return fn(st)
}

// --- questions ---

type questionStore struct {
	l  *Ledger
	st *state
}

func (s questionStore) Create(ctx context.Context, q domain.Question) (int64, error) {
	var id int64
	err := run(s.l, s.st, func(st *state) error {
		id = st.nextQuestionID
		st.nextQuestionID++
		q.ID = id
		now := time.Now()
		q.CreatedAt, q.UpdatedAt = now, now
		st.questions[id] = copyQuestion(q)
		return nil
	})
	return id, err
}

func (s questionStore) Get(ctx context.Context, id int64) (domain.Question, error) {
	var out domain.Question
	err := run(s.l, s.st, func(st *state) error {
		q, ok := st.questions[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = copyQuestion(q)
		return nil
	})
	return out, err
}

func (s questionStore) Update(ctx context.Context, q domain.Question) error {
	return run(s.l, s.st, func(st *state) error {
		if _, ok := st.questions[q.ID]; !ok {
			return domain.ErrNotFound
		}
		q.UpdatedAt = time.Now()
		st.questions[q.ID] = copyQuestion(q)
		return nil
	})
}

func (s questionStore) SetActive(ctx context.Context, id int64, active bool) error {
	return run(s.l, s.st, func(st *state) error {
		q, ok := st.questions[id]
		if !ok {
			return domain.ErrNotFound
		}
		q.IsActive = active
		q.UpdatedAt = time.Now()
		st.questions[id] = q
		return nil
	})
}

func (s questionStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Question, error) {
	var out []domain.Question
	err := run(s.l, s.st, func(st *state) error {
		for _, q := range st.questions {
			if q.IsActive {
				out = append(out, copyQuestion(q))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		out = paginate(out, opts)
		return nil
	})
	return out, err
}

func (s questionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := run(s.l, s.st, func(st *state) error {
		n = int64(len(st.questions))
		return nil
	})
	return n, err
}

// --- trades ---

type tradeStore struct {
	l  *Ledger
	st *state
}

func (s tradeStore) Insert(ctx context.Context, t domain.Trade) (int64, error) {
	var id int64
	err := run(s.l, s.st, func(st *state) error {
		id = st.nextTradeID
		st.nextTradeID++
		t.ID = id
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		st.trades = append(st.trades, t)
		return nil
	})
	return id, err
}

func (s tradeStore) CountByQuestion(ctx context.Context, questionID int64) (int64, error) {
	var n int64
	err := run(s.l, s.st, func(st *state) error {
		for _, t := range st.trades {
			if t.QuestionID == questionID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s tradeStore) ListByQuestion(ctx context.Context, questionID int64, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	err := run(s.l, s.st, func(st *state) error {
		for _, t := range st.trades {
			if t.QuestionID == questionID {
				out = append(out, t)
			}
		}
		// Newest first, like the postgres adapter.
		sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
		out = paginate(out, opts)
		return nil
	})
	return out, err
}

func (s tradeStore) RecentTraders(ctx context.Context, questionID int64, since time.Time) ([]domain.TraderStamp, error) {
	var out []domain.TraderStamp
	err := run(s.l, s.st, func(st *state) error {
		latest := map[string]time.Time{}
		for _, t := range st.trades {
			if t.QuestionID != questionID || !t.CreatedAt.After(since) {
				continue
			}
			if at, ok := latest[t.Trader]; !ok || t.CreatedAt.After(at) {
				latest[t.Trader] = t.CreatedAt
			}
		}
		for trader, at := range latest {
			out = append(out, domain.TraderStamp{Trader: trader, At: at})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
		return nil
	})
	return out, err
}

// --- pools ---

type poolStore struct {
	l  *Ledger
	st *state
}

func (s poolStore) Create(ctx context.Context, p domain.Pool) (int64, error) {
	var id int64
	err := run(s.l, s.st, func(st *state) error {
		id = st.nextPoolID
		st.nextPoolID++
		p.ID = id
		now := time.Now()
		p.CreatedAt, p.UpdatedAt = now, now
		for i := range p.Contributions {
			p.Contributions[i].PoolID = id
			p.Contributions[i].CreatedAt = now
			p.Contributions[i].UpdatedAt = now
		}
		st.pools[id] = copyPool(p)
		return nil
	})
	return id, err
}

func (s poolStore) Get(ctx context.Context, id int64) (domain.Pool, error) {
	var out domain.Pool
	err := run(s.l, s.st, func(st *state) error {
		p, ok := st.pools[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = copyPool(p)
		return nil
	})
	return out, err
}

// Update persists the pool's scalar fields (status, totals, reserve,
// timestamps). Contributions are managed through the dedicated methods.
func (s poolStore) Update(ctx context.Context, p domain.Pool) error {
	return run(s.l, s.st, func(st *state) error {
		cur, ok := st.pools[p.ID]
		if !ok {
			return domain.ErrNotFound
		}
		p.Contributions = cur.Contributions
		p.CreatedAt = cur.CreatedAt
		p.UpdatedAt = time.Now()
		st.pools[p.ID] = p
		return nil
	})
}

func (s poolStore) AddContribution(ctx context.Context, poolID int64, contributor string, amount int64) error {
	return run(s.l, s.st, func(st *state) error {
		p, ok := st.pools[poolID]
		if !ok {
			return domain.ErrNotFound
		}
		now := time.Now()
		if c := p.Contribution(contributor); c != nil {
			c.Amount += amount
			c.UpdatedAt = now
		} else {
			p.Contributions = append(p.Contributions, domain.Contribution{
				PoolID:      poolID,
				Contributor: contributor,
				Amount:      amount,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		st.pools[poolID] = p
		return nil
	})
}

func (s poolStore) SetContributionWithdrawn(ctx context.Context, poolID int64, contributor string) error {
	return run(s.l, s.st, func(st *state) error {
		p, ok := st.pools[poolID]
		if !ok {
			return domain.ErrNotFound
		}
		c := p.Contribution(contributor)
		if c == nil {
			return domain.ErrNotFound
		}
		if c.Withdrawn {
			return domain.ErrAlreadyWithdrawn
		}
		c.Amount = 0
		c.Withdrawn = true
		c.UpdatedAt = time.Now()
		st.pools[poolID] = p
		return nil
	})
}

func (s poolStore) MarkRefunded(ctx context.Context, poolID int64, contributor string) error {
	return run(s.l, s.st, func(st *state) error {
		p, ok := st.pools[poolID]
		if !ok {
			return domain.ErrNotFound
		}
		c := p.Contribution(contributor)
		if c == nil {
			return domain.ErrNotFound
		}
		if c.Refunded {
			return domain.ErrAlreadyRefunded
		}
		c.Refunded = true
		c.UpdatedAt = time.Now()
		st.pools[poolID] = p
		return nil
	})
}

func (s poolStore) ListByQuestion(ctx context.Context, questionID int64, opts domain.ListOpts) ([]domain.Pool, error) {
	var out []domain.Pool
	err := run(s.l, s.st, func(st *state) error {
		for _, p := range st.pools {
			if p.QuestionID == questionID {
				out = append(out, copyPool(p))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		out = paginate(out, opts)
		return nil
	})
	return out, err
}

// --- balances ---

type balanceStore struct {
	l  *Ledger
	st *state
}

func (s balanceStore) Get(ctx context.Context, account string) (domain.Account, error) {
	var out domain.Account
	err := run(s.l, s.st, func(st *state) error {
		a, ok := st.accounts[account]
		if !ok {
			a = domain.Account{ID: account}
		}
		out = a
		return nil
	})
	return out, err
}

func (s balanceStore) Deposit(ctx context.Context, account string, amount int64) error {
	return s.Credit(ctx, account, amount)
}

func (s balanceStore) Debit(ctx context.Context, account string, amount int64) error {
	return run(s.l, s.st, func(st *state) error {
		a := st.accounts[account]
		if a.Available < amount {
			return domain.ErrInsufficientFunds
		}
		a.ID = account
		a.Available -= amount
		a.UpdatedAt = time.Now()
		st.accounts[account] = a
		return nil
	})
}

func (s balanceStore) Credit(ctx context.Context, account string, amount int64) error {
	return run(s.l, s.st, func(st *state) error {
		a := st.accounts[account]
		a.ID = account
		a.Available += amount
		a.UpdatedAt = time.Now()
		st.accounts[account] = a
		return nil
	})
}

func (s balanceStore) Accrue(ctx context.Context, account string, amount int64) error {
	return run(s.l, s.st, func(st *state) error {
		a := st.accounts[account]
		a.ID = account
		a.Claimable += amount
		a.UpdatedAt = time.Now()
		st.accounts[account] = a
		return nil
	})
}

func (s balanceStore) Claim(ctx context.Context, account string) (int64, error) {
	var claimed int64
	err := run(s.l, s.st, func(st *state) error {
		a := st.accounts[account]
		if a.Claimable == 0 {
			return domain.ErrNothingToClaim
		}
		a.ID = account
		claimed = a.Claimable
		a.Available += claimed
		a.Claimable = 0
		a.UpdatedAt = time.Now()
		st.accounts[account] = a
		return nil
	})
	return claimed, err
}

// --- audit ---

type auditStore struct {
	l  *Ledger
	st *state
}

func (s auditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	return run(s.l, s.st, func(st *state) error {
		st.audit = append(st.audit, domain.AuditEntry{
			ID:        st.nextAuditID,
			Event:     event,
			Detail:    detail,
			CreatedAt: time.Now(),
		})
		st.nextAuditID++
		return nil
	})
}

func (s auditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := run(s.l, s.st, func(st *state) error {
		out = append([]domain.AuditEntry(nil), st.audit...)
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
		out = paginate(out, opts)
		return nil
	})
	return out, err
}

func (s auditStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := run(s.l, s.st, func(st *state) error {
		for _, e := range st.audit {
			if e.CreatedAt.Before(before) {
				out = append(out, e)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		if limit > 0 && limit < len(out) {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (s auditStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := run(s.l, s.st, func(st *state) error {
		kept := st.audit[:0]
		for _, e := range st.audit {
			if e.CreatedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		st.audit = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
