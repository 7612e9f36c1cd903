package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// AccountService exposes balance reads, deposits, and fee claims.
type AccountService struct {
	ledger domain.Ledger
	logger *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(ledger domain.Ledger, logger *slog.Logger) *AccountService {
	return &AccountService{
		ledger: ledger,
		logger: logger.With(slog.String("component", "account_service")),
	}
}

// Get returns the account's available and claimable balances. Unknown
// accounts read as zero.
func (s *AccountService) Get(ctx context.Context, account string) (domain.Account, error) {
	a, err := s.ledger.Balances().Get(ctx, account)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: get %s: %w", account, err)
	}
	return a, nil
}

// Deposit credits spendable funds to the account. This stands in for the
// hosting ledger substrate moving settlement currency into the core.
func (s *AccountService) Deposit(ctx context.Context, account string, amount int64) error {
	if strings.TrimSpace(account) == "" {
		return fmt.Errorf("%w: account is required", domain.ErrValidation)
	}
	if domain.IsPoolAccount(account) {
		return fmt.Errorf("%w: pool escrow accounts cannot be deposited to", domain.ErrValidation)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", domain.ErrValidation)
	}
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.Balances().Deposit(ctx, account, amount); err != nil {
			return fmt.Errorf("account_service: deposit: %w", err)
		}
		return tx.Audit().Log(ctx, "deposit", map[string]any{
			"account": account,
			"amount":  amount,
		})
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "deposit",
		slog.String("account", account),
		slog.Int64("amount", amount),
	)
	return nil
}

// Claim moves the account's full claimable fee balance to its available
// balance and returns the amount moved.
func (s *AccountService) Claim(ctx context.Context, account string) (int64, error) {
	var claimed int64
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		claimed, err = tx.Balances().Claim(ctx, account)
		if err != nil {
			return fmt.Errorf("account_service: claim: %w", err)
		}
		return tx.Audit().Log(ctx, "fees_claimed", map[string]any{
			"account": account,
			"amount":  claimed,
		})
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "fees claimed",
		slog.String("account", account),
		slog.Int64("amount", claimed),
	)
	return claimed, nil
}

// AuditLog returns recent audit entries, newest first.
func (s *AccountService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.ledger.Audit().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("account_service: audit log: %w", err)
	}
	return entries, nil
}
