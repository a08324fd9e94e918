package core

import "errors"

// Sentinel error kinds. Callers match with errors.Is; every failure aborts
// the whole call with no partial state change.
var (
	ErrNotListed             = errors.New("asset not listed")
	ErrNotActive             = errors.New("asset delisted")
	ErrWindowClosed          = errors.New("outside the permitted cycle window")
	ErrCapExceeded           = errors.New("funding cap exceeded")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrNotFulfilledYet       = errors.New("withdrawal intent not fulfilled yet")
	ErrNothingToClaim        = errors.New("nothing to claim")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrNegativeAmount        = errors.New("amount must not be negative")
	ErrDuplicateProfitRecord = errors.New("profit record already written for cycle")
	ErrCycleNotClosed        = errors.New("profit cycle not closed yet")
)
