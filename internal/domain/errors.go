package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid input")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
	ErrInsufficientFunds = errors.New("insufficient available balance")

	ErrQuestionInactive = errors.New("question is inactive")
	ErrAlreadyOwner     = errors.New("trader already owns the current answer")
	ErrSameAnswer       = errors.New("answer is identical to the current answer")

	ErrPoolNotActive    = errors.New("pool is not active")
	ErrPoolExpired      = errors.New("pool deadline has passed")
	ErrPoolNotExpired   = errors.New("pool is not expired")
	ErrExceedsTarget    = errors.New("contribution exceeds remaining target")
	ErrNotContributor   = errors.New("account has no contribution in this pool")
	ErrAlreadyRefunded  = errors.New("contribution already refunded")
	ErrAlreadyWithdrawn = errors.New("contribution already withdrawn")
	ErrNothingToClaim   = errors.New("no claimable balance")
)
