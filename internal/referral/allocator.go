// Package referral splits a collected system commission between the platform
// and the payer's referrer. Resolution is a plain read so callers can lock
// every balance row they will touch in one deterministic order; the write
// half runs inside the caller's transaction, pool credit first, so a reward
// can never exist without its matching revenue posting.
package referral

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/shopspring/decimal"
)

type referrerSource interface {
	GetActiveReferrer(ctx context.Context, payerID uuid.UUID) (*domain.User, error)
}

type rewardStore interface {
	CreateReward(ctx context.Context, tx *sql.Tx, reward *domain.ReferralReward) error
}

type poolStore interface {
	Add(ctx context.Context, tx *sql.Tx, pt *domain.CommissionPoolTransaction) error
}

type balanceStore interface {
	Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error)
}

// Config carries the referral program switches. Rewards are fixed per
// operation type; whatever is configured is still capped at half the fee.
type Config struct {
	Enabled bool
	Rewards map[domain.OperationType]decimal.Decimal
}

type Allocator struct {
	cfg       Config
	referrals referrerSource
	rewards   rewardStore
	pool      poolStore
	balances  balanceStore
}

func NewAllocator(cfg Config, referrals referrerSource, rewards rewardStore, pool poolStore, balances balanceStore) *Allocator {
	return &Allocator{
		cfg:       cfg,
		referrals: referrals,
		rewards:   rewards,
		pool:      pool,
		balances:  balances,
	}
}

// Allocation is a resolved split of one system commission.
type Allocation struct {
	HasReferral         bool
	Referrer            *domain.User
	RewardAmount        decimal.Decimal
	NetSystemCommission decimal.Decimal
}

var rewardCap = decimal.NewFromFloat(0.5)

// Resolve determines, without writing anything, whether a referral applies to
// this fee and how it splits.
func (a *Allocator) Resolve(ctx context.Context, payerID uuid.UUID, op domain.OperationType, systemCommission decimal.Decimal) (*Allocation, error) {
	out := &Allocation{
		RewardAmount:        decimal.Zero,
		NetSystemCommission: systemCommission,
	}

	if !a.cfg.Enabled || systemCommission.LessThanOrEqual(decimal.Zero) {
		return out, nil
	}

	referrer, err := a.referrals.GetActiveReferrer(ctx, payerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return out, nil
		}
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	reward := a.rewardFor(op, systemCommission)
	if reward.LessThanOrEqual(decimal.Zero) {
		return out, nil
	}

	out.HasReferral = true
	out.Referrer = referrer
	out.RewardAmount = reward
	out.NetSystemCommission = systemCommission.Sub(reward)
	return out, nil
}

// ApplyInput names the operation being settled.
type ApplyInput struct {
	OperationRef uuid.UUID
	Operation    domain.OperationType
	SourceType   domain.PoolSourceType
	PayerID      uuid.UUID
	Currency     domain.Currency
	Description  string
	Now          time.Time
}

// Apply writes the resolved split inside tx: the net pool credit first, then
// the reward row and the referrer's wallet credit.
func (a *Allocator) Apply(ctx context.Context, tx *sql.Tx, in ApplyInput, alloc *Allocation) error {
	if alloc.NetSystemCommission.GreaterThan(decimal.Zero) {
		sourceID := in.OperationRef
		err := a.pool.Add(ctx, tx, &domain.CommissionPoolTransaction{
			ID:           uuid.New(),
			SourceType:   in.SourceType,
			SourceID:     &sourceID,
			CurrencyCode: in.Currency,
			Amount:       alloc.NetSystemCommission,
			Type:         domain.PoolCredit,
			Description:  in.Description,
			CreatedAt:    in.Now,
		})
		if err != nil {
			return fmt.Errorf("Apply: pool credit: %w", err)
		}
	}

	if !alloc.HasReferral {
		return nil
	}

	err := a.rewards.CreateReward(ctx, tx, &domain.ReferralReward{
		ID:             uuid.New(),
		ReferrerID:     alloc.Referrer.ID,
		ReferredUserID: in.PayerID,
		OperationRef:   in.OperationRef,
		OperationType:  in.Operation,
		Currency:       in.Currency,
		RewardAmount:   alloc.RewardAmount,
		CreatedAt:      in.Now,
	})
	if err != nil {
		return fmt.Errorf("Apply: %w", err)
	}

	if _, err := a.balances.Credit(ctx, tx, alloc.Referrer.ID, in.Currency, alloc.RewardAmount); err != nil {
		return fmt.Errorf("Apply: credit referrer: %w", err)
	}
	return nil
}

// rewardFor returns the configured fixed reward capped at 50% of the fee.
func (a *Allocator) rewardFor(op domain.OperationType, fee decimal.Decimal) decimal.Decimal {
	fixed, ok := a.cfg.Rewards[op]
	if !ok || fixed.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	ceiling := fee.Mul(rewardCap)
	if fixed.GreaterThan(ceiling) {
		return ceiling
	}
	return fixed
}
