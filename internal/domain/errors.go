package domain

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInvalidState            = errors.New("invalid state transition")
	ErrAlreadyProcessed        = errors.New("already processed")
	ErrSelfTransfer            = errors.New("cannot transfer to yourself")
	ErrSelfTrade               = errors.New("cannot fill your own offer")
	ErrAmountOutOfRange        = errors.New("amount outside offer limits")
	ErrOfferNotOpen            = errors.New("offer is not open")
	ErrInsufficientPoolBalance = errors.New("insufficient commission pool balance")
	ErrConfigurationMissing    = errors.New("no applicable commission rate configured")
	ErrInvalidRecipient        = errors.New("invalid recipient")
	ErrInvalidCurrency         = errors.New("invalid currency")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrUserFrozen              = errors.New("user is frozen")
	ErrUserInactive            = errors.New("user is not active")
	ErrUserExists              = errors.New("user already exists")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)
