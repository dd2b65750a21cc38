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

type rewardReader interface {
	ListByReferrer(ctx context.Context, referrerID uuid.UUID, limit, offset int) ([]domain.ReferralReward, error)
}

type ReferralHandler struct {
	rewards rewardReader
}

func NewReferralHandler(rewards rewardReader) *ReferralHandler {
	return &ReferralHandler{rewards: rewards}
}

type rewardDTO struct {
	ID             uuid.UUID       `json:"id"`
	ReferredUserID uuid.UUID       `json:"referred_user_id"`
	OperationRef   uuid.UUID       `json:"operation_ref"`
	OperationType  string          `json:"operation_type"`
	Currency       string          `json:"currency"`
	RewardAmount   decimal.Decimal `json:"reward_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// List returns the caller's referral rewards, newest first.
func (h *ReferralHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	limit, offset := paginationParams(r)
	rewards, err := h.rewards.ListByReferrer(r.Context(), userID, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]rewardDTO, 0, len(rewards))
	for _, rw := range rewards {
		dtos = append(dtos, rewardDTO{
			ID:             rw.ID,
			ReferredUserID: rw.ReferredUserID,
			OperationRef:   rw.OperationRef,
			OperationType:  string(rw.OperationType),
			Currency:       string(rw.Currency),
			RewardAmount:   rw.RewardAmount,
			CreatedAt:      rw.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, dtos)
}
