package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/alanyoungcy/opinioncore/internal/pipeline"
	"github.com/alanyoungcy/opinioncore/internal/pricing"
	"github.com/alanyoungcy/opinioncore/internal/server"
	"github.com/alanyoungcy/opinioncore/internal/server/handler"
	"github.com/alanyoungcy/opinioncore/internal/server/ws"
	"github.com/alanyoungcy/opinioncore/internal/service"
)

// services groups the constructed service layer.
type services struct {
	market   *service.MarketService
	pools    *service.PoolService
	accounts *service.AccountService
}

// ServeMode runs the full HTTP + WebSocket API against PostgreSQL and Redis.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}
	return a.runServer(ctx, deps, svcs)
}

// startArchiver adds the audit cold storage cron job to the errgroup when S3
// is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	job := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		err := job.RunCron(ctx, a.cfg.Archive.Cron)
		if err == context.Canceled {
			return nil
		}
		return err
	})
}

// DevMode runs the same API entirely in-process: in-memory ledger, locks,
// limits, and bus. It seeds a few funded accounts so the API is usable
// immediately.
func (a *App) DevMode(ctx context.Context, deps *Dependencies) error {
	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("dev mode: %w", err)
	}

	for _, acct := range []string{"alice", "bob", "carol"} {
		if err := svcs.accounts.Deposit(ctx, acct, 1_000*domain.PriceScale); err != nil {
			return fmt.Errorf("dev mode: seed %s: %w", acct, err)
		}
	}
	a.logger.InfoContext(ctx, "dev mode: seeded demo accounts",
		slog.String("accounts", "alice, bob, carol"),
	)

	return a.runServer(ctx, deps, svcs)
}

// buildServices constructs the pricing engine, registry, and service layer
// from configuration.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	engine, err := pricing.NewEngine(a.cfg.PricingParams())
	if err != nil {
		return nil, fmt.Errorf("pricing engine: %w", err)
	}

	secret := a.cfg.Pricing.SeedSecret
	if secret == "" {
		// Only reachable in dev mode; Validate requires a secret in serve.
		secret = "dev-seed"
	}
	seeds := pricing.NewKeccakSeed(secret)

	registry := service.NewRegistry(
		engine,
		seeds,
		a.cfg.FeeConfig(),
		a.cfg.Market.TreasuryAccount,
		a.cfg.Pricing.TraderWindow.Duration,
		a.cfg.Pricing.TraderWindowCap,
		a.logger,
	)

	market := service.NewMarketService(
		deps.Ledger, registry, deps.RateLimiter, deps.LockManager,
		deps.SignalBus, deps.QuestionCache, deps.Notifier,
		a.cfg.FeeConfig(),
		service.MarketParams{
			TreasuryAccount:   a.cfg.Market.TreasuryAccount,
			CreationFee:       a.cfg.Market.CreationFee,
			MinInitialPrice:   a.cfg.Market.MinInitialPrice,
			MaxInitialPrice:   a.cfg.Market.MaxInitialPrice,
			MaxQuestionLen:    a.cfg.Market.MaxQuestionLen,
			MaxAnswerLen:      a.cfg.Market.MaxAnswerLen,
			MaxDescriptionLen: a.cfg.Market.MaxDescriptionLen,
			MaxCategories:     a.cfg.Market.MaxCategories,
			BlockDuration:     a.cfg.Pricing.BlockDuration.Duration,
			MaxTradesPerBlock: a.cfg.Pricing.MaxTradesPerBlock,
		},
		a.logger,
	)

	pools := service.NewPoolService(
		deps.Ledger, registry, deps.LockManager,
		deps.SignalBus, deps.QuestionCache, deps.Notifier,
		a.cfg.FeeConfig(),
		service.PoolParams{
			TreasuryAccount:         a.cfg.Market.TreasuryAccount,
			MinDuration:             a.cfg.Pools.MinDuration.Duration,
			MaxDuration:             a.cfg.Pools.MaxDuration.Duration,
			MinContribution:         a.cfg.Pools.MinContribution,
			CreationFee:             a.cfg.Pools.CreationFee,
			ContributionFee:         a.cfg.Pools.ContributionFee,
			EarlyWithdrawPenaltyBps: a.cfg.Pools.EarlyWithdrawPenaltyBps,
			CreatorFeeBps:           a.cfg.Pools.CreatorFeeBps,
			MaxNameLen:              a.cfg.Pools.MaxNameLen,
		},
		a.logger,
	)

	accounts := service.NewAccountService(deps.Ledger, a.logger)

	return &services{market: market, pools: pools, accounts: accounts}, nil
}

// runServer starts the WebSocket hub and HTTP server and blocks until the
// context is cancelled or a subsystem fails.
func (a *App) runServer(ctx context.Context, deps *Dependencies, svcs *services) error {
	g, ctx := errgroup.WithContext(ctx)

	a.startArchiver(ctx, g, deps)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Questions: handler.NewQuestionHandler(svcs.market, a.logger),
		Pools:     handler.NewPoolHandler(svcs.pools, a.logger),
		Accounts:  handler.NewAccountHandler(svcs.accounts, a.logger),
		Events:    handler.NewEventsHandler(deps.SignalBus, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
