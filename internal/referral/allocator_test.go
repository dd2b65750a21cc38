package referral

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarrafnet/sarraf-backend/internal/domain"
)

type fakeReferrerSource struct {
	referrer *domain.User
}

func (f *fakeReferrerSource) GetActiveReferrer(_ context.Context, _ uuid.UUID) (*domain.User, error) {
	if f.referrer == nil {
		return nil, domain.ErrNotFound
	}
	return f.referrer, nil
}

func newTestAllocator(enabled bool, reward string, referrer *domain.User) *Allocator {
	rewards := map[domain.OperationType]decimal.Decimal{}
	if reward != "" {
		rewards[domain.OpCityTransfer] = decimal.RequireFromString(reward)
	}
	return NewAllocator(
		Config{Enabled: enabled, Rewards: rewards},
		&fakeReferrerSource{referrer: referrer},
		nil, nil, nil,
	)
}

func TestResolveSplitsFee(t *testing.T) {
	referrer := &domain.User{ID: uuid.New(), Status: domain.UserStatusActive}
	a := newTestAllocator(true, "2", referrer)

	alloc, err := a.Resolve(context.Background(), uuid.New(), domain.OpCityTransfer, decimal.RequireFromString("5"))
	require.NoError(t, err)

	assert.True(t, alloc.HasReferral)
	assert.Equal(t, referrer.ID, alloc.Referrer.ID)
	assert.True(t, alloc.RewardAmount.Equal(decimal.RequireFromString("2")))
	assert.True(t, alloc.NetSystemCommission.Equal(decimal.RequireFromString("3")))
}

func TestResolveCapsRewardAtHalfTheFee(t *testing.T) {
	referrer := &domain.User{ID: uuid.New(), Status: domain.UserStatusActive}
	a := newTestAllocator(true, "10", referrer)

	alloc, err := a.Resolve(context.Background(), uuid.New(), domain.OpCityTransfer, decimal.RequireFromString("5"))
	require.NoError(t, err)

	assert.True(t, alloc.RewardAmount.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, alloc.NetSystemCommission.Equal(decimal.RequireFromString("2.5")))
}

func TestResolveWithoutReferrer(t *testing.T) {
	a := newTestAllocator(true, "2", nil)

	alloc, err := a.Resolve(context.Background(), uuid.New(), domain.OpCityTransfer, decimal.RequireFromString("5"))
	require.NoError(t, err)

	assert.False(t, alloc.HasReferral)
	assert.True(t, alloc.RewardAmount.IsZero())
	assert.True(t, alloc.NetSystemCommission.Equal(decimal.RequireFromString("5")))
}

func TestResolveDisabledProgram(t *testing.T) {
	referrer := &domain.User{ID: uuid.New(), Status: domain.UserStatusActive}
	a := newTestAllocator(false, "2", referrer)

	alloc, err := a.Resolve(context.Background(), uuid.New(), domain.OpCityTransfer, decimal.RequireFromString("5"))
	require.NoError(t, err)

	assert.False(t, alloc.HasReferral)
	assert.True(t, alloc.NetSystemCommission.Equal(decimal.RequireFromString("5")))
}

func TestResolveNoConfiguredReward(t *testing.T) {
	referrer := &domain.User{ID: uuid.New(), Status: domain.UserStatusActive}
	a := newTestAllocator(true, "", referrer)

	alloc, err := a.Resolve(context.Background(), uuid.New(), domain.OpCityTransfer, decimal.RequireFromString("5"))
	require.NoError(t, err)

	assert.False(t, alloc.HasReferral)
	assert.True(t, alloc.NetSystemCommission.Equal(decimal.RequireFromString("5")))
}

func TestResolveZeroFee(t *testing.T) {
	referrer := &domain.User{ID: uuid.New(), Status: domain.UserStatusActive}
	a := newTestAllocator(true, "2", referrer)

	alloc, err := a.Resolve(context.Background(), uuid.New(), domain.OpCityTransfer, decimal.Zero)
	require.NoError(t, err)

	assert.False(t, alloc.HasReferral)
	assert.True(t, alloc.NetSystemCommission.IsZero())
}
