package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinioncore/internal/cache/memory"
	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/alanyoungcy/opinioncore/internal/fees"
	"github.com/alanyoungcy/opinioncore/internal/pricing"
	memstore "github.com/alanyoungcy/opinioncore/internal/store/memory"
)

const micro = domain.PriceScale

// fakeClock lets tests move time across pool deadlines.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ledger   *memstore.Ledger
	market   *MarketService
	pools    *PoolService
	accounts *AccountService
	clock    *fakeClock
}

// newFixture wires the services over the in-memory ledger and cache. The
// pricing params are degenerate bands (solo always +20%, competitive always
// +8%) so price outcomes are exact regardless of the seed.
func newFixture(t *testing.T, mutate ...func(*MarketParams, *PoolParams)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine, err := pricing.NewEngine(pricing.Params{
		MinimumPrice:      1 * micro,
		AbsoluteMaxChange: 1_000 * micro,
		CompetitiveMinBps: 800,
		CompetitiveMaxBps: 800,
		Regimes: []pricing.RegimeParams{
			{Name: domain.RegimeBullish, Weight: 1, MinBps: 2_000, MaxBps: 2_000},
		},
	})
	require.NoError(t, err)

	feeCfg := fees.DefaultConfig()
	ledger := memstore.New()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	registry := NewRegistry(engine, pricing.NewKeccakSeed("test-secret"), feeCfg,
		"treasury", 24*time.Hour, 64, logger)

	marketParams := MarketParams{
		TreasuryAccount:   "treasury",
		CreationFee:       1 * micro,
		MinInitialPrice:   1 * micro,
		MaxInitialPrice:   1_000 * micro,
		MaxQuestionLen:    280,
		MaxAnswerLen:      140,
		MaxDescriptionLen: 1_000,
		MaxCategories:     5,
		BlockDuration:     time.Hour,
		MaxTradesPerBlock: 100,
	}
	poolParams := PoolParams{
		TreasuryAccount:         "treasury",
		MinDuration:             time.Hour,
		MaxDuration:             30 * 24 * time.Hour,
		MinContribution:         100_000,
		CreationFee:             500_000,
		ContributionFee:         0,
		EarlyWithdrawPenaltyBps: 2_000,
		CreatorFeeBps:           2_000,
		MaxNameLen:              80,
	}
	for _, m := range mutate {
		m(&marketParams, &poolParams)
	}

	limiter := memory.NewRateLimiter()
	locks := memory.NewLockManager()
	bus := memory.NewSignalBus(128)

	market := NewMarketService(ledger, registry, limiter, locks, bus, nil, nil, feeCfg, marketParams, logger)
	market.clock = clock.Now
	pools := NewPoolService(ledger, registry, locks, bus, nil, nil, feeCfg, poolParams, logger)
	pools.clock = clock.Now

	return &fixture{
		ledger:   ledger,
		market:   market,
		pools:    pools,
		accounts: NewAccountService(ledger, logger),
		clock:    clock,
	}
}

func (f *fixture) deposit(t *testing.T, account string, amount int64) {
	t.Helper()
	require.NoError(t, f.accounts.Deposit(context.Background(), account, amount))
}

func (f *fixture) balance(t *testing.T, account string) domain.Account {
	t.Helper()
	a, err := f.accounts.Get(context.Background(), account)
	require.NoError(t, err)
	return a
}

// newQuestion creates a funded question owned by "creator" with the given
// initial asking price and answer "yes".
func (f *fixture) newQuestion(t *testing.T, initialPrice int64) domain.Question {
	t.Helper()
	f.deposit(t, "creator", 1*micro)
	q, err := f.market.CreateQuestion(context.Background(),
		"creator", "Will it rain in Lisbon tomorrow?", "yes", "", initialPrice, []string{"weather"})
	require.NoError(t, err)
	return q
}

func TestCreateQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "creator", 10*micro)

	q, err := f.market.CreateQuestion(ctx, "creator", "Will it rain?", "yes", "", 5*micro, nil)
	require.NoError(t, err)

	assert.Equal(t, "creator", q.Owner)
	assert.Equal(t, "creator", q.CurrentAnswerOwner)
	assert.Equal(t, "yes", q.CurrentAnswer)
	assert.Equal(t, int64(5*micro), q.LastPrice)
	assert.Equal(t, int64(5*micro), q.NextPrice)
	assert.True(t, q.IsActive)

	// Creation fee moved creator -> treasury in full.
	assert.Equal(t, int64(9*micro), f.balance(t, "creator").Available)
	assert.Equal(t, int64(1*micro), f.balance(t, "treasury").Available)
}

func TestCreateQuestion_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "creator", 10*micro)

	_, err := f.market.CreateQuestion(ctx, "creator", "", "yes", "", 5*micro, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.market.CreateQuestion(ctx, "creator", "Q?", "yes", "", 0, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.market.CreateQuestion(ctx, "creator", "Q?", "yes", "", 5*micro,
		[]string{"a", "b", "c", "d", "e", "f"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Broke creator cannot pay the creation fee.
	_, err = f.market.CreateQuestion(ctx, "pauper", "Q?", "yes", "", 5*micro, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestSubmitTrade_SoloPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 5*micro)
	f.deposit(t, "alice", 5*micro)

	res, err := f.market.SubmitTrade(ctx, q.ID, "alice", "no", "")
	require.NoError(t, err)

	assert.Equal(t, int64(5*micro), res.Trade.Price)
	assert.Equal(t, domain.ClassificationSolo, res.Trade.Classification)
	assert.Equal(t, domain.RegimeBullish, res.Trade.Regime)
	assert.Equal(t, int64(1), res.Trade.Seq)
	// Single regime at +20%.
	assert.Equal(t, int64(6*micro), res.Trade.NextPrice)
	assert.Equal(t, int64(6*micro), res.Question.NextPrice)
	assert.Equal(t, int64(5*micro), res.Question.LastPrice)
	assert.Equal(t, "alice", res.Question.CurrentAnswerOwner)
	assert.Equal(t, "no", res.Question.CurrentAnswer)
	assert.Equal(t, int64(5*micro), res.Question.TotalVolume)

	// 2% platform / 3% creator / 95% prior owner; creator was also the owner.
	assert.Equal(t, int64(0), f.balance(t, "alice").Available)
	assert.Equal(t, int64(100_000), res.Split.Platform)
	assert.Equal(t, int64(1*micro+100_000), f.balance(t, "treasury").Available)
	assert.Equal(t, int64(150_000+4_750_000), f.balance(t, "creator").Claimable)
}

func TestSubmitTrade_CompetitivePricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 5*micro)
	f.deposit(t, "alice", 5*micro)
	f.deposit(t, "bob", 6*micro)

	_, err := f.market.SubmitTrade(ctx, q.ID, "alice", "no", "")
	require.NoError(t, err)

	// A second distinct trader inside the window switches the engine to the
	// guaranteed competitive band, +8% here.
	res, err := f.market.SubmitTrade(ctx, q.ID, "bob", "maybe", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationCompetitive, res.Trade.Classification)
	assert.Equal(t, domain.RegimeNone, res.Trade.Regime)
	assert.Equal(t, int64(6*micro), res.Trade.Price)
	assert.Equal(t, int64(6_480_000), res.Trade.NextPrice)
}

func TestSubmitTrade_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 5*micro)
	f.deposit(t, "creator", 10*micro)
	f.deposit(t, "alice", 10*micro)

	// The current answer owner cannot buy their own slot back.
	_, err := f.market.SubmitTrade(ctx, q.ID, "creator", "no", "")
	assert.ErrorIs(t, err, domain.ErrAlreadyOwner)

	// Restating the standing answer is not a trade.
	_, err = f.market.SubmitTrade(ctx, q.ID, "alice", "yes", "")
	assert.ErrorIs(t, err, domain.ErrSameAnswer)

	require.NoError(t, f.market.SetQuestionActive(ctx, q.ID, false))
	f.deposit(t, "dana", 10*micro)
	_, err = f.market.SubmitTrade(ctx, q.ID, "dana", "no", "")
	assert.ErrorIs(t, err, domain.ErrQuestionInactive)
}

func TestSubmitTrade_PerTraderRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 5*micro)
	f.deposit(t, "alice", 20*micro)

	_, err := f.market.SubmitTrade(ctx, q.ID, "alice", "no", "")
	require.NoError(t, err)

	_, err = f.market.SubmitTrade(ctx, q.ID, "alice", "maybe", "")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestSubmitTrade_InsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 5*micro)

	_, err := f.market.SubmitTrade(ctx, q.ID, "pauper", "no", "")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Nothing moved: price, ownership, and history are untouched.
	got, err := f.market.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5*micro), got.NextPrice)
	assert.Equal(t, "creator", got.CurrentAnswerOwner)
	trades, err := f.market.ListTrades(ctx, q.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPoolCreate_AutoExecutesAtTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 5*micro)
	f.deposit(t, "alice", 500_000+5*micro)

	res, err := f.pools.Create(ctx, q.ID, "alice", "flip it", "no",
		f.clock.Now().Add(2*time.Hour), 5*micro)
	require.NoError(t, err)
	require.True(t, res.Executed)
	require.NotNil(t, res.Trade)

	pool := res.Pool
	assert.Equal(t, domain.PoolStatusExecuted, pool.Status)
	assert.Equal(t, pool.BuyerAccount(), res.Trade.Question.CurrentAnswerOwner)
	assert.Equal(t, "no", res.Trade.Question.CurrentAnswer)
	assert.Equal(t, int64(5*micro), res.Trade.Trade.Price)

	// Pool creator takes 20% of the trade's platform share as claimable.
	assert.Equal(t, int64(20_000), f.balance(t, "alice").Claimable)
	// Escrow fully consumed by the purchase.
	assert.Equal(t, int64(0), f.balance(t, pool.BuyerAccount()).Available)
}

func TestPoolCreate_ExceedsTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 10*micro)

	// An initial contribution past target+tolerance is rejected before any
	// money moves; the buyer cannot overpay by opening an oversized pool.
	f.deposit(t, "alice", 500_000+50*micro)
	_, err := f.pools.Create(ctx, q.ID, "alice", "flip it", "no",
		f.clock.Now().Add(2*time.Hour), 50*micro)
	assert.ErrorIs(t, err, domain.ErrExceedsTarget)
	assert.Equal(t, int64(500_000+50*micro), f.balance(t, "alice").Available)

	// Landing exactly on target+tolerance executes at the contributed amount.
	res, err := f.pools.Create(ctx, q.ID, "alice", "flip it", "no",
		f.clock.Now().Add(2*time.Hour), 10_001_000)
	require.NoError(t, err)
	require.True(t, res.Executed)
	assert.Equal(t, int64(10_001_000), res.Trade.Trade.Price)
}

func TestPoolContribute_ToleranceBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 10*micro) // tolerance = 1000 micros

	f.deposit(t, "alice", 500_000+2*micro)
	res, err := f.pools.Create(ctx, q.ID, "alice", "flip it", "no",
		f.clock.Now().Add(2*time.Hour), 2*micro)
	require.NoError(t, err)
	require.False(t, res.Executed)
	poolID := res.Pool.ID

	f.deposit(t, "bob", 7*micro)
	res, err = f.pools.Contribute(ctx, poolID, "bob", 7*micro)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, int64(9*micro), res.Pool.TotalContributed)
	assert.Equal(t, int64(1*micro), res.TopUpRequired)

	// Landing exactly on target-tolerance completes, paying what was raised.
	f.deposit(t, "carol", 999_000)
	res, err = f.pools.Contribute(ctx, poolID, "carol", 999_000)
	require.NoError(t, err)
	require.True(t, res.Executed)
	assert.Equal(t, int64(9_999_000), res.Trade.Trade.Price)
	assert.Equal(t, int64(9_999_000), res.Trade.Question.LastPrice)
}

func TestPoolContribute_ExceedsTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 10*micro)

	f.deposit(t, "alice", 500_000+2*micro)
	res, err := f.pools.Create(ctx, q.ID, "alice", "flip it", "no",
		f.clock.Now().Add(2*time.Hour), 2*micro)
	require.NoError(t, err)
	poolID := res.Pool.ID

	// Pushing past target+tolerance is rejected outright.
	f.deposit(t, "bob", 9*micro)
	_, err = f.pools.Contribute(ctx, poolID, "bob", 8_002_000)
	assert.ErrorIs(t, err, domain.ErrExceedsTarget)

	// Landing exactly on target+tolerance is allowed; the overshoot is
	// absorbed into the purchase.
	res, err = f.pools.Contribute(ctx, poolID, "bob", 8_001_000)
	require.NoError(t, err)
	require.True(t, res.Executed)
	assert.Equal(t, int64(10_001_000), res.Trade.Trade.Price)
}

func TestPoolComplete_TopUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 10*micro)

	f.deposit(t, "alice", 500_000+9*micro+1*micro)
	res, err := f.pools.Create(ctx, q.ID, "alice", "flip it", "no",
		f.clock.Now().Add(2*time.Hour), 9*micro)
	require.NoError(t, err)
	poolID := res.Pool.ID

	// Without top-up the attempt just reports the gap.
	res, err = f.pools.Complete(ctx, poolID, "alice", false)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, int64(1*micro), res.TopUpRequired)

	// Only the creator may pay the gap.
	_, err = f.pools.Complete(ctx, poolID, "bob", true)
	assert.ErrorIs(t, err, domain.ErrValidation)

	res, err = f.pools.Complete(ctx, poolID, "alice", true)
	require.NoError(t, err)
	require.True(t, res.Executed)
	assert.Equal(t, int64(10*micro), res.Trade.Trade.Price)
	assert.Equal(t, int64(0), f.balance(t, "alice").Available)
}

func TestPoolWithdrawEarly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 10*micro)

	f.deposit(t, "alice", 500_000+2*micro)
	res, err := f.pools.Create(ctx, q.ID, "alice", "flip it", "no",
		f.clock.Now().Add(2*time.Hour), 2*micro)
	require.NoError(t, err)
	poolID := res.Pool.ID

	f.deposit(t, "bob", 3*micro)
	_, err = f.pools.Contribute(ctx, poolID, "bob", 3*micro)
	require.NoError(t, err)

	payout, err := f.pools.WithdrawEarly(ctx, poolID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2_400_000), payout) // 20% penalty retained
	assert.Equal(t, int64(2_400_000), f.balance(t, "bob").Available)

	pool, err := f.pools.GetPool(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, int64(2*micro), pool.TotalContributed)
	assert.Equal(t, int64(600_000), pool.PenaltyReserve)

	_, err = f.pools.WithdrawEarly(ctx, poolID, "bob")
	assert.ErrorIs(t, err, domain.ErrAlreadyWithdrawn)
	_, err = f.pools.WithdrawEarly(ctx, poolID, "stranger")
	assert.ErrorIs(t, err, domain.ErrNotContributor)

	// A drained stake cannot be re-opened.
	f.deposit(t, "bob", 1*micro)
	_, err = f.pools.Contribute(ctx, poolID, "bob", 1*micro)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPoolExpiryAndRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 10*micro)

	f.deposit(t, "alice", 500_000+2*micro)
	res, err := f.pools.Create(ctx, q.ID, "alice", "flip it", "no",
		f.clock.Now().Add(2*time.Hour), 2*micro)
	require.NoError(t, err)
	poolID := res.Pool.ID

	f.deposit(t, "bob", 3*micro)
	_, err = f.pools.Contribute(ctx, poolID, "bob", 3*micro)
	require.NoError(t, err)
	_, err = f.pools.WithdrawEarly(ctx, poolID, "bob")
	require.NoError(t, err)

	// Refund before the deadline is premature.
	_, err = f.pools.Refund(ctx, poolID, "alice")
	assert.ErrorIs(t, err, domain.ErrPoolNotExpired)

	f.clock.Advance(3 * time.Hour)

	// The first touch past the deadline expires the pool for good, even
	// though the touching call itself fails.
	f.deposit(t, "carol", 1*micro)
	_, err = f.pools.Contribute(ctx, poolID, "carol", 1*micro)
	assert.ErrorIs(t, err, domain.ErrPoolExpired)
	pool, err := f.pools.GetPool(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusExpired, pool.Status)

	// Sole remaining contributor takes their stake plus the whole reserve.
	payout, err := f.pools.Refund(ctx, poolID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2_600_000), payout)

	_, err = f.pools.Refund(ctx, poolID, "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)
	_, err = f.pools.Refund(ctx, poolID, "bob")
	assert.ErrorIs(t, err, domain.ErrAlreadyWithdrawn)

	// Escrow fully drained.
	assert.Equal(t, int64(0), f.balance(t, pool.BuyerAccount()).Available)
}

func TestPoolExecution_DistributesPenaltyReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 10*micro)

	f.deposit(t, "alice", 500_000+2*micro)
	res, err := f.pools.Create(ctx, q.ID, "alice", "flip it", "no",
		f.clock.Now().Add(2*time.Hour), 2*micro)
	require.NoError(t, err)
	poolID := res.Pool.ID

	f.deposit(t, "bob", 4*micro)
	_, err = f.pools.Contribute(ctx, poolID, "bob", 4*micro)
	require.NoError(t, err)
	_, err = f.pools.WithdrawEarly(ctx, poolID, "bob")
	require.NoError(t, err) // leaves an 800_000 reserve

	f.deposit(t, "carol", 8*micro)
	res, err = f.pools.Contribute(ctx, poolID, "carol", 8*micro)
	require.NoError(t, err)
	require.True(t, res.Executed)

	// Reserve split pro-rata over the live stakes: 2/10 and 8/10.
	assert.Equal(t, int64(160_000), f.balance(t, "alice").Available)
	assert.Equal(t, int64(640_000), f.balance(t, "carol").Available)
	assert.Equal(t, int64(0), f.balance(t, res.Pool.BuyerAccount()).Available)
}

func TestPoolCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 10*micro)
	f.deposit(t, "alice", 20*micro)

	// Proposing the standing answer is pointless.
	_, err := f.pools.Create(ctx, q.ID, "alice", "same", "yes",
		f.clock.Now().Add(2*time.Hour), 2*micro)
	assert.ErrorIs(t, err, domain.ErrSameAnswer)

	// Deadline outside the allowed horizon.
	_, err = f.pools.Create(ctx, q.ID, "alice", "soon", "no",
		f.clock.Now().Add(time.Minute), 2*micro)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.pools.Create(ctx, q.ID, "alice", "later", "no",
		f.clock.Now().Add(500*24*time.Hour), 2*micro)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.pools.Create(ctx, q.ID, "alice", "tiny", "no",
		f.clock.Now().Add(2*time.Hour), 10_000)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.newQuestion(t, 5*micro)
	f.deposit(t, "alice", 5*micro)
	_, err := f.market.SubmitTrade(ctx, q.ID, "alice", "no", "")
	require.NoError(t, err)

	claimed, err := f.accounts.Claim(ctx, "creator")
	require.NoError(t, err)
	assert.Equal(t, int64(4_900_000), claimed)
	assert.Equal(t, int64(4_900_000), f.balance(t, "creator").Available)
	assert.Equal(t, int64(0), f.balance(t, "creator").Claimable)

	_, err = f.accounts.Claim(ctx, "creator")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestDeposit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.accounts.Deposit(ctx, "alice", 0), domain.ErrValidation)
	assert.ErrorIs(t, f.accounts.Deposit(ctx, "alice", -5), domain.ErrValidation)
	assert.ErrorIs(t, f.accounts.Deposit(ctx, "", 1*micro), domain.ErrValidation)
	assert.ErrorIs(t, f.accounts.Deposit(ctx, domain.PoolAccount(7), 1*micro), domain.ErrValidation)
}
