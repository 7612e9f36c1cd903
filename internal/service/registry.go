// Package service implements the core operations over the ledger: the
// question/market registry, direct trades, the pool lifecycle, and fee
// accounting. All mutation of question records goes through the Registry;
// everything it does inside ApplyTrade happens in the caller's ledger
// transaction, so a trade either applies its price update, registry update,
// and fee split in full, or not at all.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/alanyoungcy/opinioncore/internal/fees"
	"github.com/alanyoungcy/opinioncore/internal/pricing"
)

// Registry exclusively owns Question mutation. It couples the pricing engine
// to the question records and keeps the per-question rolling trader windows.
type Registry struct {
	engine   *pricing.Engine
	seeds    pricing.SeedSource
	feeCfg   fees.Config
	treasury string

	windowSpan time.Duration
	windowCap  int

	mu      sync.Mutex
	windows map[int64]*pricing.TraderWindow

	logger *slog.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(
	engine *pricing.Engine,
	seeds pricing.SeedSource,
	feeCfg fees.Config,
	treasury string,
	windowSpan time.Duration,
	windowCap int,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		engine:     engine,
		seeds:      seeds,
		feeCfg:     feeCfg,
		treasury:   treasury,
		windowSpan: windowSpan,
		windowCap:  windowCap,
		windows:    make(map[int64]*pricing.TraderWindow),
		logger:     logger.With(slog.String("component", "registry")),
	}
}

// TradeOpts carries the pool-execution variations of the trade path.
type TradeOpts struct {
	// PaidPrice overrides the question's asking price as the amount the
	// buyer pays. Pools pay their contributed amount: a shortfall within
	// the completion tolerance completes free, and excess over a moved
	// target is absorbed into the purchase rather than refunded.
	PaidPrice int64
	// PoolCreator, when set, receives PoolCreatorFeeBps of the trade's
	// platform share as the pool's residual fee cut.
	PoolCreator       string
	PoolCreatorFeeBps int64
}

// TradeResult is the outcome of one applied trade.
type TradeResult struct {
	Trade    domain.Trade
	Question domain.Question
	Split    fees.Split
}

// ApplyTrade executes one purchase of the question's answer slot inside the
// caller's transaction: validates preconditions, debits the buyer, splits
// fees, computes the next asking price, and updates the question and trade
// history. The caller must hold the question's lock and, on transaction
// success, call NoteTrade to record the buyer in the rolling window.
func (r *Registry) ApplyTrade(
	ctx context.Context,
	tx domain.LedgerTx,
	questionID int64,
	buyer, answer, description string,
	now time.Time,
	opts TradeOpts,
) (TradeResult, error) {
	q, err := tx.Questions().Get(ctx, questionID)
	if err != nil {
		return TradeResult{}, fmt.Errorf("registry: get question %d: %w", questionID, err)
	}

	if !q.IsActive {
		return TradeResult{}, domain.ErrQuestionInactive
	}
	if buyer == q.CurrentAnswerOwner {
		return TradeResult{}, domain.ErrAlreadyOwner
	}
	if answer == q.CurrentAnswer {
		return TradeResult{}, domain.ErrSameAnswer
	}

	paid := q.NextPrice
	if opts.PaidPrice > 0 {
		paid = opts.PaidPrice
	}

	if err := tx.Balances().Debit(ctx, buyer, paid); err != nil {
		return TradeResult{}, fmt.Errorf("registry: debit buyer %s: %w", buyer, err)
	}

	split := r.feeCfg.Trade.Split(paid)
	if err := r.settleTradeFees(ctx, tx, q, split, opts); err != nil {
		return TradeResult{}, err
	}

	seq, err := tx.Trades().CountByQuestion(ctx, questionID)
	if err != nil {
		return TradeResult{}, fmt.Errorf("registry: trade count for question %d: %w", questionID, err)
	}
	seq++

	class, err := r.classify(ctx, tx, questionID, buyer, now)
	if err != nil {
		return TradeResult{}, err
	}

	next, regime := r.engine.NextPrice(paid, class, r.seeds.Seed(questionID, seq))

	q.LastPrice = paid
	q.NextPrice = next
	q.TotalVolume += paid
	q.Owner = buyer
	q.CurrentAnswer = answer
	q.CurrentAnswerOwner = buyer
	if err := tx.Questions().Update(ctx, q); err != nil {
		return TradeResult{}, fmt.Errorf("registry: update question %d: %w", questionID, err)
	}

	trade := domain.Trade{
		QuestionID:     questionID,
		Seq:            seq,
		Trader:         buyer,
		Answer:         answer,
		Description:    description,
		Price:          paid,
		NextPrice:      next,
		Classification: class,
		Regime:         regime,
		CreatedAt:      now,
	}
	trade.ID, err = tx.Trades().Insert(ctx, trade)
	if err != nil {
		return TradeResult{}, fmt.Errorf("registry: insert trade: %w", err)
	}

	if err := tx.Audit().Log(ctx, "trade_applied", map[string]any{
		"question_id":    questionID,
		"seq":            seq,
		"trader":         buyer,
		"price":          paid,
		"next_price":     next,
		"classification": string(class),
	}); err != nil {
		return TradeResult{}, fmt.Errorf("registry: audit trade: %w", err)
	}

	return TradeResult{Trade: trade, Question: q, Split: split}, nil
}

// settleTradeFees forwards the platform share to the treasury and accrues
// the creator and prior-owner shares as claimable balances. For pool
// executions, the pool creator's residual cut is carved out of the platform
// share first.
func (r *Registry) settleTradeFees(ctx context.Context, tx domain.LedgerTx, q domain.Question, split fees.Split, opts TradeOpts) error {
	platform := split.Platform
	if opts.PoolCreator != "" && opts.PoolCreatorFeeBps > 0 {
		cut := platform * opts.PoolCreatorFeeBps / 10_000
		if cut > 0 {
			if err := tx.Balances().Accrue(ctx, opts.PoolCreator, cut); err != nil {
				return fmt.Errorf("registry: accrue pool creator share: %w", err)
			}
			platform -= cut
		}
	}
	if platform > 0 {
		if err := tx.Balances().Credit(ctx, r.treasury, platform); err != nil {
			return fmt.Errorf("registry: forward platform share: %w", err)
		}
	}
	if split.Creator > 0 {
		if err := tx.Balances().Accrue(ctx, q.Creator, split.Creator); err != nil {
			return fmt.Errorf("registry: accrue creator share: %w", err)
		}
	}
	if split.Owner > 0 {
		if err := tx.Balances().Accrue(ctx, q.Owner, split.Owner); err != nil {
			return fmt.Errorf("registry: accrue owner share: %w", err)
		}
	}
	return nil
}

// classify rebuilds the question's trader window from trade history on first
// use, then classifies the pending trade.
func (r *Registry) classify(ctx context.Context, tx domain.LedgerTx, questionID int64, buyer string, now time.Time) (domain.Classification, error) {
	r.mu.Lock()
	w, ok := r.windows[questionID]
	r.mu.Unlock()

	if !ok {
		w = pricing.NewTraderWindow(r.windowSpan, r.windowCap)
		stamps, err := tx.Trades().RecentTraders(ctx, questionID, now.Add(-r.windowSpan))
		if err != nil {
			return "", fmt.Errorf("registry: rebuild trader window for question %d: %w", questionID, err)
		}
		// RecentTraders returns newest first; the window wants time order.
		for i := len(stamps) - 1; i >= 0; i-- {
			w.Add(stamps[i].Trader, stamps[i].At)
		}
		r.mu.Lock()
		r.windows[questionID] = w
		r.mu.Unlock()

		r.logger.Debug("trader window rebuilt",
			slog.Int64("question_id", questionID),
			slog.Int("entries", w.Len()),
		)
	}

	return w.Classify(now, buyer), nil
}

// NoteTrade records the buyer in the question's rolling trader window. Call
// it only after the surrounding transaction has committed, so a rolled-back
// trade never pollutes classification.
func (r *Registry) NoteTrade(questionID int64, buyer string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[questionID]; ok {
		w.Add(buyer, at)
	}
}
