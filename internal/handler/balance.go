package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sarrafnet/sarraf-backend/internal/auth"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
)

type balanceReader interface {
	GetAllForUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error)
}

type BalanceHandler struct {
	balances balanceReader
}

func NewBalanceHandler(balances balanceReader) *BalanceHandler {
	return &BalanceHandler{balances: balances}
}

type balanceDTO struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (h *BalanceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	balances, err := h.balances.GetAllForUser(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]balanceDTO, 0, len(balances))
	for _, b := range balances {
		dtos = append(dtos, balanceDTO{
			Currency:  string(b.Currency),
			Amount:    b.Amount,
			UpdatedAt: b.UpdatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, dtos)
}
