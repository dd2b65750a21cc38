package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sarrafnet/sarraf-backend/internal/auth"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
	"github.com/sarrafnet/sarraf-backend/internal/service/pool"
)

type poolService interface {
	GetBalance(ctx context.Context, currency domain.Currency) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, currency domain.Currency, limit, offset int) ([]domain.CommissionPoolTransaction, error)
	Withdraw(ctx context.Context, caller *domain.User, req pool.WithdrawRequest) (*domain.CommissionPoolTransaction, error)
}

type PoolHandler struct {
	pool  poolService
	users callerReader
}

func NewPoolHandler(pool poolService, users callerReader) *PoolHandler {
	return &PoolHandler{pool: pool, users: users}
}

type poolBalanceDTO struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type poolTransactionDTO struct {
	ID          uuid.UUID       `json:"id"`
	SourceType  string          `json:"source_type"`
	SourceID    *uuid.UUID      `json:"source_id,omitempty"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toPoolTransactionDTO(pt *domain.CommissionPoolTransaction) poolTransactionDTO {
	return poolTransactionDTO{
		ID:          pt.ID,
		SourceType:  string(pt.SourceType),
		SourceID:    pt.SourceID,
		Currency:    string(pt.CurrencyCode),
		Amount:      pt.Amount,
		Type:        string(pt.Type),
		Description: pt.Description,
		CreatedAt:   pt.CreatedAt,
	}
}

// requireAdmin loads the caller and rejects non-admins. Pool endpoints are
// back office only.
func (h *PoolHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return nil, false
	}
	caller, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, err)
		return nil, false
	}
	if caller.Role != domain.RoleAdmin {
		RespondAppError(w, ErrForbidden, nil)
		return nil, false
	}
	return caller, true
}

func (h *PoolHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	currency := domain.Currency(r.PathValue("currency"))
	balance, err := h.pool.GetBalance(r.Context(), currency)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, poolBalanceDTO{
		Currency: string(currency),
		Balance:  balance,
	})
}

func (h *PoolHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	currency := domain.Currency(r.PathValue("currency"))
	limit, offset := paginationParams(r)

	txs, err := h.pool.ListTransactions(r.Context(), currency, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]poolTransactionDTO, 0, len(txs))
	for i := range txs {
		dtos = append(dtos, toPoolTransactionDTO(&txs[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

type withdrawRequest struct {
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

func (h *PoolHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	caller, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must be a decimal greater than 0"}})
		return
	}

	pt, err := h.pool.Withdraw(r.Context(), caller, pool.WithdrawRequest{
		Currency:    domain.Currency(req.Currency),
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		log.Warn("pool withdrawal failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toPoolTransactionDTO(pt))
}
