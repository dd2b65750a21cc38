package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReferralReward is the carve-out granted to a referrer for one qualifying
// operation. The (operation_ref, operation_type) pair is unique so a reward
// can never be granted twice for the same operation.
type ReferralReward struct {
	ID             uuid.UUID
	ReferrerID     uuid.UUID
	ReferredUserID uuid.UUID
	OperationRef   uuid.UUID
	OperationType  OperationType
	Currency       Currency
	RewardAmount   decimal.Decimal
	CreatedAt      time.Time
}
