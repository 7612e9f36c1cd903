package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/alanyoungcy/opinioncore/internal/fees"
	"github.com/alanyoungcy/opinioncore/internal/notify"
)

// PoolParams holds the pool lifecycle limits and fees.
type PoolParams struct {
	TreasuryAccount         string
	MinDuration             time.Duration
	MaxDuration             time.Duration
	MinContribution         int64
	CreationFee             int64
	ContributionFee         int64
	EarlyWithdrawPenaltyBps int64
	CreatorFeeBps           int64
	MaxNameLen              int
}

// PoolService manages collective funding pools. A pool's target is always
// the question's live NextPrice, re-read inside the transaction of every
// mutating call; contributions race against direct trades moving it.
//
// Lock ordering is pool before question, everywhere.
type PoolService struct {
	ledger   domain.Ledger
	registry *Registry
	locks    domain.LockManager
	bus      domain.SignalBus
	cache    domain.QuestionCache // optional
	notifier *notify.Notifier
	feeCfg   fees.Config
	params   PoolParams
	clock    func() time.Time
	logger   *slog.Logger
}

// NewPoolService creates a PoolService. cache and notifier may be nil.
func NewPoolService(
	ledger domain.Ledger,
	registry *Registry,
	locks domain.LockManager,
	bus domain.SignalBus,
	cache domain.QuestionCache,
	notifier *notify.Notifier,
	feeCfg fees.Config,
	params PoolParams,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{
		ledger:   ledger,
		registry: registry,
		locks:    locks,
		bus:      bus,
		cache:    cache,
		notifier: notifier,
		feeCfg:   feeCfg,
		params:   params,
		clock:    time.Now,
		logger:   logger.With(slog.String("component", "pool_service")),
	}
}

// CompleteResult reports the outcome of a completion attempt. When the pool
// executed, Executed is true and Trade carries the applied trade. Otherwise
// TopUpRequired is the gap the creator would have to cover.
type CompleteResult struct {
	Pool          domain.Pool
	Executed      bool
	Trade         *TradeResult
	TopUpRequired int64
}

// Create opens a pool on the question with the creator's initial
// contribution. The initial contribution pays no per-contribution fee; the
// flat pool creation fee covers it. The initial contribution may not exceed
// the live target plus tolerance; the pool executes immediately when it
// already reaches the target.
func (s *PoolService) Create(
	ctx context.Context,
	questionID int64,
	creator, name, proposedAnswer string,
	deadline time.Time,
	initialAmount int64,
) (CompleteResult, error) {
	if strings.TrimSpace(creator) == "" {
		return CompleteResult{}, fmt.Errorf("%w: creator account is required", domain.ErrValidation)
	}
	if l := len(strings.TrimSpace(name)); l == 0 || l > s.params.MaxNameLen {
		return CompleteResult{}, fmt.Errorf("%w: pool name length must be within [1, %d]", domain.ErrValidation, s.params.MaxNameLen)
	}
	if strings.TrimSpace(proposedAnswer) == "" {
		return CompleteResult{}, fmt.Errorf("%w: proposed answer is required", domain.ErrValidation)
	}
	if initialAmount < s.params.MinContribution {
		return CompleteResult{}, fmt.Errorf("%w: initial contribution below minimum %d", domain.ErrValidation, s.params.MinContribution)
	}

	now := s.clock()
	if d := deadline.Sub(now); d < s.params.MinDuration || d > s.params.MaxDuration {
		return CompleteResult{}, fmt.Errorf("%w: deadline must be between %s and %s from now",
			domain.ErrValidation, s.params.MinDuration, s.params.MaxDuration)
	}

	unlock, err := s.locks.Acquire(ctx, questionLockKey(questionID), lockTTL)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("pool_service: lock question %d: %w", questionID, err)
	}
	defer unlock()

	var result CompleteResult
	err = s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		q, err := tx.Questions().Get(ctx, questionID)
		if err != nil {
			return fmt.Errorf("pool_service: get question %d: %w", questionID, err)
		}
		if !q.IsActive {
			return domain.ErrQuestionInactive
		}
		if proposedAnswer == q.CurrentAnswer {
			return domain.ErrSameAnswer
		}

		target := q.NextPrice
		if initialAmount > target+tolerance(target) {
			return fmt.Errorf("%w: initial contribution %d exceeds target %d", domain.ErrExceedsTarget,
				initialAmount, target)
		}

		if err := tx.Balances().Debit(ctx, creator, s.params.CreationFee+initialAmount); err != nil {
			return fmt.Errorf("pool_service: debit pool creator %s: %w", creator, err)
		}
		if err := s.forwardFee(ctx, tx, creator, s.params.CreationFee); err != nil {
			return err
		}

		p := domain.Pool{
			QuestionID:       questionID,
			Creator:          creator,
			Name:             name,
			ProposedAnswer:   proposedAnswer,
			Deadline:         deadline,
			Status:           domain.PoolStatusActive,
			TotalContributed: initialAmount,
		}
		id, err := tx.Pools().Create(ctx, p)
		if err != nil {
			return fmt.Errorf("pool_service: create pool: %w", err)
		}
		p.ID = id

		if err := tx.Balances().Credit(ctx, p.BuyerAccount(), initialAmount); err != nil {
			return fmt.Errorf("pool_service: escrow initial contribution: %w", err)
		}
		if err := tx.Pools().AddContribution(ctx, id, creator, initialAmount); err != nil {
			return fmt.Errorf("pool_service: record initial contribution: %w", err)
		}
		if err := tx.Audit().Log(ctx, "pool_created", map[string]any{
			"pool_id":     id,
			"question_id": questionID,
			"creator":     creator,
			"initial":     initialAmount,
		}); err != nil {
			return err
		}

		result, err = s.maybeExecute(ctx, tx, &p, q, now)
		return err
	})
	if err != nil {
		return CompleteResult{}, err
	}
	s.afterMutation(ctx, "pool_created", result, now)
	return result, nil
}

// Contribute adds funds to an active pool. The flat contribution fee is
// deducted from the amount; the net stake may not push the pool past the
// target plus tolerance. Reaching target minus tolerance executes the pool
// within the same transaction.
func (s *PoolService) Contribute(ctx context.Context, poolID int64, contributor string, amount int64) (CompleteResult, error) {
	if strings.TrimSpace(contributor) == "" {
		return CompleteResult{}, fmt.Errorf("%w: contributor account is required", domain.ErrValidation)
	}
	net := amount - s.params.ContributionFee
	if net < s.params.MinContribution {
		return CompleteResult{}, fmt.Errorf("%w: contribution net of the %d fee must be at least %d",
			domain.ErrValidation, s.params.ContributionFee, s.params.MinContribution)
	}

	unlockPool, err := s.locks.Acquire(ctx, poolLockKey(poolID), lockTTL)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("pool_service: lock pool %d: %w", poolID, err)
	}
	defer unlockPool()

	now := s.clock()
	p, err := s.activePool(ctx, poolID, now)
	if err != nil {
		return CompleteResult{}, err
	}

	unlockQ, err := s.locks.Acquire(ctx, questionLockKey(p.QuestionID), lockTTL)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("pool_service: lock question %d: %w", p.QuestionID, err)
	}
	defer unlockQ()

	var result CompleteResult
	err = s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		p, err := tx.Pools().Get(ctx, poolID)
		if err != nil {
			return fmt.Errorf("pool_service: get pool %d: %w", poolID, err)
		}
		if p.Status != domain.PoolStatusActive {
			return domain.ErrPoolNotActive
		}
		q, err := tx.Questions().Get(ctx, p.QuestionID)
		if err != nil {
			return fmt.Errorf("pool_service: get question %d: %w", p.QuestionID, err)
		}
		if !q.IsActive {
			return domain.ErrQuestionInactive
		}
		if c := p.Contribution(contributor); c != nil && (c.Withdrawn || c.Refunded) {
			return fmt.Errorf("%w: contributor %s already exited pool %d", domain.ErrValidation, contributor, poolID)
		}

		target := q.NextPrice
		if p.TotalContributed+net > target+tolerance(target) {
			return fmt.Errorf("%w: pool %d holds %d of target %d", domain.ErrExceedsTarget,
				poolID, p.TotalContributed, target)
		}

		if err := tx.Balances().Debit(ctx, contributor, amount); err != nil {
			return fmt.Errorf("pool_service: debit contributor %s: %w", contributor, err)
		}
		if err := s.forwardFee(ctx, tx, contributor, s.params.ContributionFee); err != nil {
			return err
		}
		if err := tx.Balances().Credit(ctx, p.BuyerAccount(), net); err != nil {
			return fmt.Errorf("pool_service: escrow contribution: %w", err)
		}
		if err := tx.Pools().AddContribution(ctx, poolID, contributor, net); err != nil {
			return fmt.Errorf("pool_service: record contribution: %w", err)
		}
		p.TotalContributed += net
		if err := tx.Pools().Update(ctx, p); err != nil {
			return fmt.Errorf("pool_service: update pool %d: %w", poolID, err)
		}
		if err := tx.Audit().Log(ctx, "pool_contribution", map[string]any{
			"pool_id":     poolID,
			"contributor": contributor,
			"net":         net,
		}); err != nil {
			return err
		}

		result, err = s.maybeExecute(ctx, tx, &p, q, now)
		return err
	})
	if err != nil {
		return CompleteResult{}, err
	}
	s.afterMutation(ctx, "pool_contribution", result, now)
	return result, nil
}

// Complete attempts to execute the pool against the live target. Within
// tolerance it executes as-is; short of it, the result reports the gap. The
// pool creator may pass payTopUp to cover the gap (plus the contribution
// fee) out of their own balance and force execution.
func (s *PoolService) Complete(ctx context.Context, poolID int64, caller string, payTopUp bool) (CompleteResult, error) {
	unlockPool, err := s.locks.Acquire(ctx, poolLockKey(poolID), lockTTL)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("pool_service: lock pool %d: %w", poolID, err)
	}
	defer unlockPool()

	now := s.clock()
	p, err := s.activePool(ctx, poolID, now)
	if err != nil {
		return CompleteResult{}, err
	}
	if payTopUp && caller != p.Creator {
		return CompleteResult{}, fmt.Errorf("%w: only the pool creator may top up", domain.ErrValidation)
	}

	unlockQ, err := s.locks.Acquire(ctx, questionLockKey(p.QuestionID), lockTTL)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("pool_service: lock question %d: %w", p.QuestionID, err)
	}
	defer unlockQ()

	var result CompleteResult
	err = s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		p, err := tx.Pools().Get(ctx, poolID)
		if err != nil {
			return fmt.Errorf("pool_service: get pool %d: %w", poolID, err)
		}
		if p.Status != domain.PoolStatusActive {
			return domain.ErrPoolNotActive
		}
		q, err := tx.Questions().Get(ctx, p.QuestionID)
		if err != nil {
			return fmt.Errorf("pool_service: get question %d: %w", p.QuestionID, err)
		}

		target := q.NextPrice
		gap := target - tolerance(target) - p.TotalContributed
		if gap > 0 && !payTopUp {
			result = CompleteResult{Pool: p, TopUpRequired: target - p.TotalContributed}
			return nil
		}
		if gap > 0 {
			// The creator tops up to the full target, not just inside the
			// tolerance band.
			topUp := target - p.TotalContributed
			if err := tx.Balances().Debit(ctx, p.Creator, topUp+s.params.ContributionFee); err != nil {
				return fmt.Errorf("pool_service: debit top-up from %s: %w", p.Creator, err)
			}
			if err := s.forwardFee(ctx, tx, p.Creator, s.params.ContributionFee); err != nil {
				return err
			}
			if err := tx.Balances().Credit(ctx, p.BuyerAccount(), topUp); err != nil {
				return fmt.Errorf("pool_service: escrow top-up: %w", err)
			}
			if err := tx.Pools().AddContribution(ctx, poolID, p.Creator, topUp); err != nil {
				return fmt.Errorf("pool_service: record top-up: %w", err)
			}
			p.TotalContributed += topUp
			if err := tx.Pools().Update(ctx, p); err != nil {
				return fmt.Errorf("pool_service: update pool %d: %w", poolID, err)
			}
		}

		result, err = s.maybeExecute(ctx, tx, &p, q, now)
		return err
	})
	if err != nil {
		return CompleteResult{}, err
	}
	if result.Executed {
		s.afterMutation(ctx, "pool_completed", result, now)
	}
	return result, nil
}

// WithdrawEarly returns a contributor's stake minus the early-exit penalty
// while the pool is still active. The penalty stays in escrow as the pool's
// penalty reserve.
func (s *PoolService) WithdrawEarly(ctx context.Context, poolID int64, contributor string) (int64, error) {
	unlock, err := s.locks.Acquire(ctx, poolLockKey(poolID), lockTTL)
	if err != nil {
		return 0, fmt.Errorf("pool_service: lock pool %d: %w", poolID, err)
	}
	defer unlock()

	now := s.clock()
	if _, err := s.activePool(ctx, poolID, now); err != nil {
		return 0, err
	}

	var payout int64
	err = s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		p, err := tx.Pools().Get(ctx, poolID)
		if err != nil {
			return fmt.Errorf("pool_service: get pool %d: %w", poolID, err)
		}
		if p.Status != domain.PoolStatusActive {
			return domain.ErrPoolNotActive
		}
		c := p.Contribution(contributor)
		if c == nil {
			return domain.ErrNotContributor
		}
		if c.Withdrawn {
			return domain.ErrAlreadyWithdrawn
		}

		penalty := bpsOf(c.Amount, s.params.EarlyWithdrawPenaltyBps)
		payout = c.Amount - penalty

		if err := tx.Balances().Debit(ctx, p.BuyerAccount(), payout); err != nil {
			return fmt.Errorf("pool_service: release escrow: %w", err)
		}
		if err := tx.Balances().Credit(ctx, contributor, payout); err != nil {
			return fmt.Errorf("pool_service: pay withdrawal: %w", err)
		}
		if err := tx.Pools().SetContributionWithdrawn(ctx, poolID, contributor); err != nil {
			return fmt.Errorf("pool_service: mark withdrawn: %w", err)
		}
		p.TotalContributed -= c.Amount
		p.PenaltyReserve += penalty
		if err := tx.Pools().Update(ctx, p); err != nil {
			return fmt.Errorf("pool_service: update pool %d: %w", poolID, err)
		}
		return tx.Audit().Log(ctx, "pool_withdrawal", map[string]any{
			"pool_id":     poolID,
			"contributor": contributor,
			"payout":      payout,
			"penalty":     penalty,
		})
	})
	if err != nil {
		return 0, err
	}

	s.publish(ctx, map[string]any{
		"event":       "pool_withdrawal",
		"pool_id":     poolID,
		"contributor": contributor,
		"payout":      payout,
		"timestamp":   now.Format(time.RFC3339Nano),
	})
	s.logger.InfoContext(ctx, "early withdrawal",
		slog.Int64("pool_id", poolID),
		slog.String("contributor", contributor),
		slog.Int64("payout", payout),
	)
	return payout, nil
}

// Refund returns a contributor's full stake from an expired pool, plus their
// pro-rata share of the penalty reserve. Each contributor is refunded at most
// once.
func (s *PoolService) Refund(ctx context.Context, poolID int64, contributor string) (int64, error) {
	unlock, err := s.locks.Acquire(ctx, poolLockKey(poolID), lockTTL)
	if err != nil {
		return 0, fmt.Errorf("pool_service: lock pool %d: %w", poolID, err)
	}
	defer unlock()

	now := s.clock()
	p, err := s.ledger.Pools().Get(ctx, poolID)
	if err != nil {
		return 0, fmt.Errorf("pool_service: get pool %d: %w", poolID, err)
	}
	switch p.Status {
	case domain.PoolStatusExpired:
	case domain.PoolStatusActive:
		if now.Before(p.Deadline) {
			return 0, domain.ErrPoolNotExpired
		}
		if err := s.expireNow(ctx, poolID, now); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%w: pool %d already executed", domain.ErrPoolNotExpired, poolID)
	}

	var payout int64
	err = s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		p, err := tx.Pools().Get(ctx, poolID)
		if err != nil {
			return fmt.Errorf("pool_service: get pool %d: %w", poolID, err)
		}
		c := p.Contribution(contributor)
		if c == nil {
			return domain.ErrNotContributor
		}
		if c.Withdrawn {
			return domain.ErrAlreadyWithdrawn
		}
		if c.Refunded {
			return domain.ErrAlreadyRefunded
		}

		payout = c.Amount + proRata(p.PenaltyReserve, c.Amount, p.TotalContributed)
		if err := tx.Balances().Debit(ctx, p.BuyerAccount(), payout); err != nil {
			return fmt.Errorf("pool_service: release escrow: %w", err)
		}
		if err := tx.Balances().Credit(ctx, contributor, payout); err != nil {
			return fmt.Errorf("pool_service: pay refund: %w", err)
		}
		if err := tx.Pools().MarkRefunded(ctx, poolID, contributor); err != nil {
			return fmt.Errorf("pool_service: mark refunded: %w", err)
		}
		return tx.Audit().Log(ctx, "pool_refund", map[string]any{
			"pool_id":     poolID,
			"contributor": contributor,
			"payout":      payout,
		})
	})
	if err != nil {
		return 0, err
	}

	s.publish(ctx, map[string]any{
		"event":       "pool_refund",
		"pool_id":     poolID,
		"contributor": contributor,
		"payout":      payout,
		"timestamp":   now.Format(time.RFC3339Nano),
	})
	return payout, nil
}

// Expire marks an active pool past its deadline as expired. Refunds are
// pulled per-contributor afterwards; this never moves funds.
func (s *PoolService) Expire(ctx context.Context, poolID int64) error {
	unlock, err := s.locks.Acquire(ctx, poolLockKey(poolID), lockTTL)
	if err != nil {
		return fmt.Errorf("pool_service: lock pool %d: %w", poolID, err)
	}
	defer unlock()

	now := s.clock()
	p, err := s.ledger.Pools().Get(ctx, poolID)
	if err != nil {
		return fmt.Errorf("pool_service: get pool %d: %w", poolID, err)
	}
	if p.Status != domain.PoolStatusActive {
		return domain.ErrPoolNotActive
	}
	if now.Before(p.Deadline) {
		return domain.ErrPoolNotExpired
	}
	return s.expireNow(ctx, poolID, now)
}

// GetPool returns a pool by id with its contributions.
func (s *PoolService) GetPool(ctx context.Context, id int64) (domain.Pool, error) {
	p, err := s.ledger.Pools().Get(ctx, id)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_service: get pool %d: %w", id, err)
	}
	return p, nil
}

// ListPools returns the question's pools.
func (s *PoolService) ListPools(ctx context.Context, questionID int64, opts domain.ListOpts) ([]domain.Pool, error) {
	ps, err := s.ledger.Pools().ListByQuestion(ctx, questionID, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list pools for question %d: %w", questionID, err)
	}
	return ps, nil
}

// maybeExecute runs the pool's trade when the balance is inside the
// completion band. The caller must hold both the pool and question locks and
// already have the question row locked in tx.
func (s *PoolService) maybeExecute(ctx context.Context, tx domain.LedgerTx, p *domain.Pool, q domain.Question, now time.Time) (CompleteResult, error) {
	target := q.NextPrice
	if p.TotalContributed < target-tolerance(target) {
		return CompleteResult{Pool: *p, TopUpRequired: target - p.TotalContributed}, nil
	}

	tr, err := s.registry.ApplyTrade(ctx, tx, p.QuestionID, p.BuyerAccount(), p.ProposedAnswer, "", now, TradeOpts{
		PaidPrice:         p.TotalContributed,
		PoolCreator:       p.Creator,
		PoolCreatorFeeBps: s.params.CreatorFeeBps,
	})
	if err != nil {
		return CompleteResult{}, fmt.Errorf("pool_service: execute pool %d: %w", p.ID, err)
	}

	if err := s.distributeReserve(ctx, tx, p); err != nil {
		return CompleteResult{}, err
	}

	executedAt := now
	p.Status = domain.PoolStatusExecuted
	p.ExecutedAt = &executedAt
	if err := tx.Pools().Update(ctx, *p); err != nil {
		return CompleteResult{}, fmt.Errorf("pool_service: finalize pool %d: %w", p.ID, err)
	}
	if err := tx.Audit().Log(ctx, "pool_executed", map[string]any{
		"pool_id":     p.ID,
		"question_id": p.QuestionID,
		"paid":        p.TotalContributed,
	}); err != nil {
		return CompleteResult{}, err
	}
	return CompleteResult{Pool: *p, Executed: true, Trade: &tr}, nil
}

// distributeReserve pays the penalty reserve pro-rata to the pool's live
// contributors. Integer floor dust goes to the treasury so escrow zeroes out.
func (s *PoolService) distributeReserve(ctx context.Context, tx domain.LedgerTx, p *domain.Pool) error {
	if p.PenaltyReserve == 0 {
		return nil
	}
	// Contributions may have been added earlier in this transaction; re-read
	// so every live stake gets its share.
	fresh, err := tx.Pools().Get(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("pool_service: reload pool %d: %w", p.ID, err)
	}
	paid := int64(0)
	for _, c := range fresh.Contributions {
		if c.Withdrawn || c.Amount == 0 {
			continue
		}
		share := proRata(p.PenaltyReserve, c.Amount, p.TotalContributed)
		if share == 0 {
			continue
		}
		if err := tx.Balances().Credit(ctx, c.Contributor, share); err != nil {
			return fmt.Errorf("pool_service: pay reserve share: %w", err)
		}
		paid += share
	}
	if dust := p.PenaltyReserve - paid; dust > 0 {
		if err := tx.Balances().Credit(ctx, s.params.TreasuryAccount, dust); err != nil {
			return fmt.Errorf("pool_service: sweep reserve dust: %w", err)
		}
	}
	if err := tx.Balances().Debit(ctx, p.BuyerAccount(), p.PenaltyReserve); err != nil {
		return fmt.Errorf("pool_service: release reserve escrow: %w", err)
	}
	p.PenaltyReserve = 0
	return nil
}

// activePool returns the pool when it is active and not past its deadline.
// A pool found past its deadline is expired in its own committed transaction
// before ErrPoolExpired is returned, so the state change survives the
// caller's failure.
func (s *PoolService) activePool(ctx context.Context, poolID int64, now time.Time) (domain.Pool, error) {
	p, err := s.ledger.Pools().Get(ctx, poolID)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_service: get pool %d: %w", poolID, err)
	}
	switch p.Status {
	case domain.PoolStatusActive:
	case domain.PoolStatusExpired:
		return domain.Pool{}, domain.ErrPoolExpired
	default:
		return domain.Pool{}, domain.ErrPoolNotActive
	}
	if !now.Before(p.Deadline) {
		if err := s.expireNow(ctx, poolID, now); err != nil {
			return domain.Pool{}, err
		}
		return domain.Pool{}, domain.ErrPoolExpired
	}
	return p, nil
}

func (s *PoolService) expireNow(ctx context.Context, poolID int64, now time.Time) error {
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		p, err := tx.Pools().Get(ctx, poolID)
		if err != nil {
			return fmt.Errorf("pool_service: get pool %d: %w", poolID, err)
		}
		if p.Status != domain.PoolStatusActive {
			return nil
		}
		expiredAt := now
		p.Status = domain.PoolStatusExpired
		p.ExpiredAt = &expiredAt
		if err := tx.Pools().Update(ctx, p); err != nil {
			return fmt.Errorf("pool_service: expire pool %d: %w", poolID, err)
		}
		return tx.Audit().Log(ctx, "pool_expired", map[string]any{"pool_id": poolID})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, map[string]any{
		"event":     "pool_expired",
		"pool_id":   poolID,
		"timestamp": now.Format(time.RFC3339Nano),
	})
	s.logger.InfoContext(ctx, "pool expired", slog.Int64("pool_id", poolID))
	return nil
}

// forwardFee routes a flat pool fee through the creation schedule. Shares
// that would go to an answer owner fold into the platform's.
func (s *PoolService) forwardFee(ctx context.Context, tx domain.LedgerTx, payer string, fee int64) error {
	if fee <= 0 {
		return nil
	}
	split := s.feeCfg.Creation.Split(fee)
	if fwd := split.Platform + split.Owner; fwd > 0 {
		if err := tx.Balances().Credit(ctx, s.params.TreasuryAccount, fwd); err != nil {
			return fmt.Errorf("pool_service: forward fee: %w", err)
		}
	}
	if split.Creator > 0 {
		if err := tx.Balances().Accrue(ctx, payer, split.Creator); err != nil {
			return fmt.Errorf("pool_service: accrue fee share: %w", err)
		}
	}
	return nil
}

func (s *PoolService) afterMutation(ctx context.Context, event string, result CompleteResult, now time.Time) {
	payload := map[string]any{
		"event":       event,
		"pool_id":     result.Pool.ID,
		"question_id": result.Pool.QuestionID,
		"total":       result.Pool.TotalContributed,
		"status":      string(result.Pool.Status),
		"timestamp":   now.Format(time.RFC3339Nano),
	}
	s.publish(ctx, payload)

	if result.Executed {
		s.registry.NoteTrade(result.Pool.QuestionID, result.Pool.BuyerAccount(), now)
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, result.Pool.QuestionID); err != nil {
				s.logger.WarnContext(ctx, "invalidate question cache failed",
					slog.Int64("question_id", result.Pool.QuestionID),
					slog.String("error", err.Error()),
				)
			}
		}
		s.publish(ctx, map[string]any{
			"event":       "pool_executed",
			"pool_id":     result.Pool.ID,
			"question_id": result.Pool.QuestionID,
			"paid":        result.Trade.Trade.Price,
			"next_price":  result.Trade.Trade.NextPrice,
			"timestamp":   now.Format(time.RFC3339Nano),
		})
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, "pool_executed", "Pool executed",
				fmt.Sprintf("pool %d bought question %d at %s",
					result.Pool.ID, result.Pool.QuestionID, formatAmount(result.Trade.Trade.Price)))
		}
		s.logger.InfoContext(ctx, "pool executed",
			slog.Int64("pool_id", result.Pool.ID),
			slog.Int64("question_id", result.Pool.QuestionID),
			slog.Int64("paid", result.Trade.Trade.Price),
		)
	}
}

func (s *PoolService) publish(ctx context.Context, payload map[string]any) {
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "pools", evt); err != nil {
		s.logger.WarnContext(ctx, "publish event failed", slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, domain.EventStream, evt); err != nil {
		s.logger.WarnContext(ctx, "append event stream failed", slog.String("error", err.Error()))
	}
}

func poolLockKey(id int64) string {
	return fmt.Sprintf("pool:%d", id)
}

// tolerance is the completion band around the target: one basis point.
func tolerance(target int64) int64 {
	return target / 10_000
}

// bpsOf computes amount*bps/10000 without overflowing intermediate products.
func bpsOf(amount, bps int64) int64 {
	return amount/10_000*bps + amount%10_000*bps/10_000
}

// proRata computes reserve*amount/total exactly via big integers; the inputs
// can each be large enough for the product to overflow int64.
func proRata(reserve, amount, total int64) int64 {
	if reserve == 0 || total == 0 {
		return 0
	}
	v := new(big.Int).Mul(big.NewInt(reserve), big.NewInt(amount))
	v.Quo(v, big.NewInt(total))
	return v.Int64()
}
