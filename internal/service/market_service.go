package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/alanyoungcy/opinioncore/internal/fees"
	"github.com/alanyoungcy/opinioncore/internal/notify"
)

// lockTTL bounds how long a crashed holder can stall a question or pool.
const lockTTL = 10 * time.Second

// questionCacheTTL bounds staleness of the read-path question snapshots;
// writers invalidate eagerly, the TTL only covers missed invalidations.
const questionCacheTTL = 5 * time.Second

// MarketParams holds the question-registry limits and fees.
type MarketParams struct {
	TreasuryAccount   string
	CreationFee       int64
	MinInitialPrice   int64
	MaxInitialPrice   int64
	MaxQuestionLen    int
	MaxAnswerLen      int
	MaxDescriptionLen int
	MaxCategories     int
	BlockDuration     time.Duration
	MaxTradesPerBlock int
}

// MarketService exposes question creation, direct trades, and question
// reads. Every mutating call runs under the question's lock and inside one
// ledger transaction.
type MarketService struct {
	ledger   domain.Ledger
	registry *Registry
	limiter  domain.RateLimiter
	locks    domain.LockManager
	bus      domain.SignalBus
	cache    domain.QuestionCache // optional
	notifier *notify.Notifier
	feeCfg   fees.Config
	params   MarketParams
	clock    func() time.Time
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. cache and notifier may be nil.
func NewMarketService(
	ledger domain.Ledger,
	registry *Registry,
	limiter domain.RateLimiter,
	locks domain.LockManager,
	bus domain.SignalBus,
	cache domain.QuestionCache,
	notifier *notify.Notifier,
	feeCfg fees.Config,
	params MarketParams,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		ledger:   ledger,
		registry: registry,
		limiter:  limiter,
		locks:    locks,
		bus:      bus,
		cache:    cache,
		notifier: notifier,
		feeCfg:   feeCfg,
		params:   params,
		clock:    time.Now,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// CreateQuestion registers a new question with its initial answer and asking
// price, charging the flat creation fee through the creation fee schedule.
func (s *MarketService) CreateQuestion(
	ctx context.Context,
	creator, text, initialAnswer, description string,
	initialPrice int64,
	categories []string,
) (domain.Question, error) {
	if err := s.validateQuestionInput(creator, text, initialAnswer, description, initialPrice, categories); err != nil {
		return domain.Question{}, err
	}

	now := s.clock()
	q := domain.Question{
		Creator:            creator,
		Owner:              creator,
		Text:               text,
		Description:        description,
		Categories:         categories,
		CurrentAnswer:      initialAnswer,
		CurrentAnswerOwner: creator,
		LastPrice:          initialPrice,
		NextPrice:          initialPrice,
		IsActive:           true,
	}

	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if s.params.CreationFee > 0 {
			if err := tx.Balances().Debit(ctx, creator, s.params.CreationFee); err != nil {
				return fmt.Errorf("market_service: charge creation fee: %w", err)
			}
			split := s.feeCfg.Creation.Split(s.params.CreationFee)
			// A question being created has no prior owner; that share joins
			// the platform's.
			if fwd := split.Platform + split.Owner; fwd > 0 {
				if err := tx.Balances().Credit(ctx, s.params.TreasuryAccount, fwd); err != nil {
					return fmt.Errorf("market_service: forward creation fee: %w", err)
				}
			}
			if split.Creator > 0 {
				if err := tx.Balances().Accrue(ctx, creator, split.Creator); err != nil {
					return fmt.Errorf("market_service: accrue creation fee share: %w", err)
				}
			}
		}

		id, err := tx.Questions().Create(ctx, q)
		if err != nil {
			return fmt.Errorf("market_service: create question: %w", err)
		}
		q.ID = id

		return tx.Audit().Log(ctx, "question_created", map[string]any{
			"question_id":   id,
			"creator":       creator,
			"initial_price": initialPrice,
		})
	})
	if err != nil {
		return domain.Question{}, err
	}

	s.publish(ctx, "questions", map[string]any{
		"event":       "question_created",
		"question_id": q.ID,
		"creator":     creator,
		"next_price":  q.NextPrice,
		"timestamp":   now.Format(time.RFC3339Nano),
	})

	s.logger.InfoContext(ctx, "question created",
		slog.Int64("question_id", q.ID),
		slog.String("creator", creator),
		slog.Int64("initial_price", initialPrice),
	)
	return q, nil
}

// SubmitTrade purchases the question's answer slot for the trader at the
// current asking price and returns the applied trade with the newly computed
// next price.
func (s *MarketService) SubmitTrade(ctx context.Context, questionID int64, trader, answer, description string) (TradeResult, error) {
	if strings.TrimSpace(trader) == "" {
		return TradeResult{}, fmt.Errorf("%w: trader account is required", domain.ErrValidation)
	}
	if err := s.validateAnswer(answer, description); err != nil {
		return TradeResult{}, err
	}

	unlock, err := s.locks.Acquire(ctx, questionLockKey(questionID), lockTTL)
	if err != nil {
		return TradeResult{}, fmt.Errorf("market_service: lock question %d: %w", questionID, err)
	}
	defer unlock()

	// Rate limits bound how fast prices and the trader window can be moved
	// within one ordering unit.
	if err := s.allowTrade(ctx, questionID, trader); err != nil {
		return TradeResult{}, err
	}

	now := s.clock()
	var result TradeResult
	err = s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		result, err = s.registry.ApplyTrade(ctx, tx, questionID, trader, answer, description, now, TradeOpts{})
		return err
	})
	if err != nil {
		return TradeResult{}, err
	}

	s.registry.NoteTrade(questionID, trader, now)
	s.invalidate(ctx, questionID)

	s.publish(ctx, "trades", map[string]any{
		"event":          "trade_executed",
		"question_id":    questionID,
		"trader":         trader,
		"price":          result.Trade.Price,
		"next_price":     result.Trade.NextPrice,
		"classification": string(result.Trade.Classification),
		"timestamp":      now.Format(time.RFC3339Nano),
	})
	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, "trade_executed", "Trade executed",
			fmt.Sprintf("question %d traded at %s, next ask %s",
				questionID, formatAmount(result.Trade.Price), formatAmount(result.Trade.NextPrice)))
	}

	s.logger.InfoContext(ctx, "trade executed",
		slog.Int64("question_id", questionID),
		slog.String("trader", trader),
		slog.Int64("price", result.Trade.Price),
		slog.Int64("next_price", result.Trade.NextPrice),
		slog.String("classification", string(result.Trade.Classification)),
	)
	return result, nil
}

// GetQuestion returns a question by id, serving from the snapshot cache when
// one is configured.
func (s *MarketService) GetQuestion(ctx context.Context, id int64) (domain.Question, error) {
	if s.cache != nil {
		if q, err := s.cache.Get(ctx, id); err == nil {
			return q, nil
		}
	}
	q, err := s.ledger.Questions().Get(ctx, id)
	if err != nil {
		return domain.Question{}, fmt.Errorf("market_service: get question %d: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, q, questionCacheTTL); err != nil {
			s.logger.WarnContext(ctx, "cache question failed",
				slog.Int64("question_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return q, nil
}

// ListQuestions returns active questions with pagination.
func (s *MarketService) ListQuestions(ctx context.Context, opts domain.ListOpts) ([]domain.Question, error) {
	qs, err := s.ledger.Questions().ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list questions: %w", err)
	}
	return qs, nil
}

// ListTrades returns the question's trade history, newest first.
func (s *MarketService) ListTrades(ctx context.Context, questionID int64, opts domain.ListOpts) ([]domain.Trade, error) {
	ts, err := s.ledger.Trades().ListByQuestion(ctx, questionID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list trades for question %d: %w", questionID, err)
	}
	return ts, nil
}

// SetQuestionActive activates or deactivates a question. Questions are never
// deleted; an inactive question rejects all trades and pool activity.
func (s *MarketService) SetQuestionActive(ctx context.Context, id int64, active bool) error {
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.Questions().SetActive(ctx, id, active); err != nil {
			return fmt.Errorf("market_service: set question %d active=%t: %w", id, active, err)
		}
		return tx.Audit().Log(ctx, "question_active_changed", map[string]any{
			"question_id": id,
			"active":      active,
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.logger.InfoContext(ctx, "question active flag changed",
		slog.Int64("question_id", id),
		slog.Bool("active", active),
	)
	return nil
}

func (s *MarketService) allowTrade(ctx context.Context, questionID int64, trader string) error {
	ok, err := s.limiter.Allow(ctx,
		fmt.Sprintf("trade:q:%d", questionID),
		s.params.MaxTradesPerBlock, s.params.BlockDuration)
	if err != nil {
		return fmt.Errorf("market_service: question rate limit: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: question %d trade limit reached", domain.ErrRateLimited, questionID)
	}

	ok, err = s.limiter.Allow(ctx,
		fmt.Sprintf("trade:q:%d:t:%s", questionID, trader),
		1, s.params.BlockDuration)
	if err != nil {
		return fmt.Errorf("market_service: trader rate limit: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: one trade per trader per question per block", domain.ErrRateLimited)
	}
	return nil
}

func (s *MarketService) validateQuestionInput(creator, text, answer, description string, initialPrice int64, categories []string) error {
	if strings.TrimSpace(creator) == "" {
		return fmt.Errorf("%w: creator account is required", domain.ErrValidation)
	}
	if l := len(strings.TrimSpace(text)); l == 0 || l > s.params.MaxQuestionLen {
		return fmt.Errorf("%w: question text length must be within [1, %d]", domain.ErrValidation, s.params.MaxQuestionLen)
	}
	if err := s.validateAnswer(answer, description); err != nil {
		return err
	}
	if initialPrice < s.params.MinInitialPrice || initialPrice > s.params.MaxInitialPrice {
		return fmt.Errorf("%w: initial price must be within [%d, %d]",
			domain.ErrValidation, s.params.MinInitialPrice, s.params.MaxInitialPrice)
	}
	if len(categories) > s.params.MaxCategories {
		return fmt.Errorf("%w: at most %d categories", domain.ErrValidation, s.params.MaxCategories)
	}
	for _, c := range categories {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("%w: empty category", domain.ErrValidation)
		}
	}
	return nil
}

func (s *MarketService) validateAnswer(answer, description string) error {
	if l := len(strings.TrimSpace(answer)); l == 0 || l > s.params.MaxAnswerLen {
		return fmt.Errorf("%w: answer length must be within [1, %d]", domain.ErrValidation, s.params.MaxAnswerLen)
	}
	if len(description) > s.params.MaxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", domain.ErrValidation, s.params.MaxDescriptionLen)
	}
	return nil
}

func (s *MarketService) invalidate(ctx context.Context, questionID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, questionID); err != nil {
		s.logger.WarnContext(ctx, "invalidate question cache failed",
			slog.Int64("question_id", questionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) publish(ctx context.Context, channel string, payload map[string]any) {
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, channel, evt); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	// The stream keeps an ordered history for catch-up reads.
	if err := s.bus.StreamAppend(ctx, domain.EventStream, evt); err != nil {
		s.logger.WarnContext(ctx, "append event stream failed",
			slog.String("error", err.Error()),
		)
	}
}

func questionLockKey(id int64) string {
	return fmt.Sprintf("question:%d", id)
}

// formatAmount renders micros as a decimal string for notifications.
func formatAmount(micros int64) string {
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}
	return fmt.Sprintf("%s%d.%06d", sign, micros/domain.PriceScale, micros%domain.PriceScale)
}
