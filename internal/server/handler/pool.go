package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/alanyoungcy/opinioncore/internal/service"
)

// PoolService defines the methods the pool handler requires from the service
// layer.
type PoolService interface {
	Create(ctx context.Context, questionID int64, creator, name, proposedAnswer string, deadline time.Time, initialAmount int64) (service.CompleteResult, error)
	Contribute(ctx context.Context, poolID int64, contributor string, amount int64) (service.CompleteResult, error)
	Complete(ctx context.Context, poolID int64, caller string, payTopUp bool) (service.CompleteResult, error)
	WithdrawEarly(ctx context.Context, poolID int64, contributor string) (int64, error)
	Refund(ctx context.Context, poolID int64, contributor string) (int64, error)
	Expire(ctx context.Context, poolID int64) error
	GetPool(ctx context.Context, id int64) (domain.Pool, error)
	ListPools(ctx context.Context, questionID int64, opts domain.ListOpts) ([]domain.Pool, error)
}

// PoolHandler serves funding-pool HTTP endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler with the given service and logger.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:  pools,
		logger: logger,
	}
}

type createPoolRequest struct {
	QuestionID     int64     `json:"question_id"`
	Creator        string    `json:"creator"`
	Name           string    `json:"name"`
	ProposedAnswer string    `json:"proposed_answer"`
	Deadline       time.Time `json:"deadline"`
	InitialAmount  int64     `json:"initial_amount"`
}

// CreatePool opens a funding pool with the creator's initial contribution.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.pools.Create(r.Context(), req.QuestionID,
		req.Creator, req.Name, req.ProposedAnswer, req.Deadline, req.InitialAmount)
	if err != nil {
		writeDomainError(w, r, h.logger, "create pool", err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GetPool returns a single pool with its contributions.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	pool, err := h.pools.GetPool(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool", err)
		return
	}

	writeJSON(w, http.StatusOK, pool)
}

// listPoolsResponse wraps the question's pool list.
type listPoolsResponse struct {
	Pools []domain.Pool `json:"pools"`
}

// ListPools returns the question's pools.
// GET /api/questions/{id}/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	questionID, ok := pathID(w, r)
	if !ok {
		return
	}

	pools, err := h.pools.ListPools(r.Context(), questionID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list pools", err)
		return
	}
	if pools == nil {
		pools = []domain.Pool{}
	}

	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: pools})
}

type contributeRequest struct {
	Contributor string `json:"contributor"`
	Amount      int64  `json:"amount"`
}

// Contribute adds funds to an active pool.
// POST /api/pools/{id}/contributions
func (h *PoolHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req contributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.pools.Contribute(r.Context(), id, req.Contributor, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "contribute", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type completeRequest struct {
	Caller   string `json:"caller"`
	PayTopUp bool   `json:"pay_top_up"`
}

// Complete attempts to execute the pool against the live target.
// POST /api/pools/{id}/complete
func (h *PoolHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.pools.Complete(r.Context(), id, req.Caller, req.PayTopUp)
	if err != nil {
		writeDomainError(w, r, h.logger, "complete pool", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type exitRequest struct {
	Contributor string `json:"contributor"`
}

// Withdraw returns a contributor's stake minus the early-exit penalty.
// POST /api/pools/{id}/withdraw
func (h *PoolHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req exitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	payout, err := h.pools.WithdrawEarly(r.Context(), id, req.Contributor)
	if err != nil {
		writeDomainError(w, r, h.logger, "withdraw", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id":     id,
		"contributor": req.Contributor,
		"payout":      payout,
	})
}

// Refund returns a contributor's stake from an expired pool.
// POST /api/pools/{id}/refund
func (h *PoolHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req exitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	payout, err := h.pools.Refund(r.Context(), id, req.Contributor)
	if err != nil {
		writeDomainError(w, r, h.logger, "refund", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id":     id,
		"contributor": req.Contributor,
		"payout":      payout,
	})
}

// Expire marks a pool past its deadline as expired.
// POST /api/pools/{id}/expire
func (h *PoolHandler) Expire(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.pools.Expire(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, "expire pool", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id": id,
		"status":  string(domain.PoolStatusExpired),
	})
}
