package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken       = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken       = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidCredentials = &AppError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"}
	ErrForbidden          = &AppError{http.StatusForbidden, "FORBIDDEN", "Not allowed to perform this action"}
	ErrInvalidRequest     = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed   = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound   = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError      = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInsufficientFunds       = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"}
	ErrUserFrozen              = &AppError{http.StatusUnprocessableEntity, "USER_FROZEN", "Account is frozen"}
	ErrUserInactive            = &AppError{http.StatusUnprocessableEntity, "USER_INACTIVE", "Account is not active"}
	ErrUserExists              = &AppError{http.StatusConflict, "USER_ALREADY_EXISTS", "A user with this email already exists"}
	ErrSelfTransfer            = &AppError{http.StatusUnprocessableEntity, "SELF_TRANSFER_NOT_ALLOWED", "Cannot transfer to yourself"}
	ErrSelfTrade               = &AppError{http.StatusUnprocessableEntity, "SELF_TRADE_NOT_ALLOWED", "Cannot fill your own offer"}
	ErrInvalidRecipient        = &AppError{http.StatusUnprocessableEntity, "INVALID_RECIPIENT", "Recipient not found or not eligible"}
	ErrInvalidState            = &AppError{http.StatusConflict, "INVALID_STATE", "Operation not allowed in the current state"}
	ErrAlreadyProcessed        = &AppError{http.StatusConflict, "ALREADY_PROCESSED", "Operation was already processed"}
	ErrOfferNotOpen            = &AppError{http.StatusConflict, "OFFER_NOT_OPEN", "Offer is no longer open"}
	ErrAmountOutOfRange        = &AppError{http.StatusUnprocessableEntity, "AMOUNT_OUT_OF_RANGE", "Amount is outside the offer's fill bounds"}
	ErrInsufficientPoolBalance = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_POOL_BALANCE", "Commission pool balance is insufficient"}
	ErrConfigurationMissing    = &AppError{http.StatusUnprocessableEntity, "CONFIGURATION_MISSING", "No applicable rate configuration"}
	ErrInvalidCurrency         = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid or unsupported currency"}
	ErrInvalidAmount           = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrMissingIdempotencyKey   = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict     = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
)
