package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// AccountService defines the methods the account handler requires from the
// service layer.
type AccountService interface {
	Get(ctx context.Context, account string) (domain.Account, error)
	Deposit(ctx context.Context, account string, amount int64) error
	Claim(ctx context.Context, account string) (int64, error)
}

// AccountHandler serves balance and fee-claim HTTP endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service and logger.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logger,
	}
}

// GetAccount returns the account's available and claimable balances.
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get account", err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

// Deposit credits spendable funds to the account.
// POST /api/accounts/{id}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.accounts.Deposit(r.Context(), id, req.Amount); err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account": id,
		"amount":  req.Amount,
	})
}

// Claim moves the account's claimable fee balance to available.
// POST /api/accounts/{id}/claim
func (h *AccountHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	claimed, err := h.accounts.Claim(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account": id,
		"claimed": claimed,
	})
}
