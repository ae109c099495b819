package ledger

import "errors"

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrAlreadyClaimedToday = errors.New("daily payout already claimed today")
	ErrNotFound            = errors.New("not found")
	ErrInvalidBankDetails  = errors.New("invalid bank details")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	ErrTxConflict          = errors.New("transaction conflict, retry later")
)
