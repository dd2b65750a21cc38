package transfer

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarrafnet/sarraf-backend/internal/commission"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/referral"
	"github.com/sarrafnet/sarraf-backend/internal/repository"
	"github.com/sarrafnet/sarraf-backend/internal/testutil"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, db *sql.DB, referralCfg referral.Config) *Service {
	t.Helper()

	users := repository.NewUserRepository(db)
	balances := repository.NewBalanceRepository(db)
	transfers := repository.NewTransferRepository(db)
	poolRepo := repository.NewPoolRepository(db)
	referrals := repository.NewReferralRepository(db)
	rates := repository.NewRateConfigRepository(db)

	calculator := commission.NewCalculator(rates)
	allocator := referral.NewAllocator(referralCfg, referrals, referrals, poolRepo, balances)

	return NewService(users, balances, transfers, calculator, allocator, nil, db)
}

func TestCreateHoldsFullAmount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Benghazi Office", domain.RoleOffice)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "1000")

	tr, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("500"),
	})
	require.NoError(t, err)

	// Defaults: 1.5% recipient commission, 1% system commission.
	assert.True(t, tr.RecipientCommission.Equal(d("7.5")), "recipient commission %s", tr.RecipientCommission)
	assert.True(t, tr.SystemCommission.Equal(d("5")), "system commission %s", tr.SystemCommission)
	assert.Equal(t, domain.TransferStatusPending, tr.Status)
	assert.Len(t, tr.ReceiverCode, 6)

	// Full hold debited, nothing credited anywhere yet.
	senderBalance := testutil.GetBalance(t, db, sender.ID, domain.CurrencyLYD)
	assert.True(t, senderBalance.Equal(d("487.5")), "sender balance %s", senderBalance)
	assert.True(t, testutil.PoolBalance(t, db, domain.CurrencyLYD).IsZero())
}

func TestCreatePricesFromConfiguredRates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "3000")

	// 15 per mille replaces the 1% system default.
	testutil.SeedCommissionRate(t, db, domain.OpInterOfficeTransfer, domain.CurrencyLYD, domain.RateKindPerMille, "15")
	// Flat office rate, shadowed by a matching tier.
	testutil.SeedOfficeRate(t, db, office.ID, domain.CurrencyLYD, domain.RateKindFixed, "10")
	// Overlapping bands: rows are read ordered by min_amount, so the lower
	// band wins regardless of insert order.
	testutil.SeedOfficeTier(t, db, office.ID, domain.CurrencyLYD, "200", "1000", nil, nil, domain.RateKindFixed, "6")
	testutil.SeedOfficeTier(t, db, office.ID, domain.CurrencyLYD, "0", "1000", nil, nil, domain.RateKindFixed, "4")

	tr, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("500"),
	})
	require.NoError(t, err)

	assert.True(t, tr.SystemCommission.Equal(d("7.5")), "system commission %s", tr.SystemCommission)
	assert.True(t, tr.RecipientCommission.Equal(d("4")), "recipient commission %s", tr.RecipientCommission)

	balance := testutil.GetBalance(t, db, sender.ID, domain.CurrencyLYD)
	assert.True(t, balance.Equal(d("2488.5")), "sender balance %s", balance)

	// Outside every band the office flat rate applies.
	tr, err = svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("1500"),
	})
	require.NoError(t, err)

	assert.True(t, tr.SystemCommission.Equal(d("22.5")), "system commission %s", tr.SystemCommission)
	assert.True(t, tr.RecipientCommission.Equal(d("10")), "recipient commission %s", tr.RecipientCommission)
}

func TestCreateInsufficientFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "500")

	// 500 covers the amount but not amount + commissions.
	_, err := svc.Create(context.Background(), CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("500"),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	balance := testutil.GetBalance(t, db, sender.ID, domain.CurrencyLYD)
	assert.True(t, balance.Equal(d("500")), "balance must be untouched, got %s", balance)
}

func TestCreateValidation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	customer := testutil.SeedUser(t, db, "friend@example.com", "Friend", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "1000")

	// Inter-office transfers must pay out through an office.
	_, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &customer.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("100"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRecipient)

	_, err = svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeCity,
		ReceiverID: &sender.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("100"),
	})
	assert.ErrorIs(t, err, domain.ErrSelfTransfer)

	_, err = svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeCity,
		ReceiverID: &customer.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("-5"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	testutil.SetUserStatus(t, db, sender.ID, domain.UserStatusFrozen)
	_, err = svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("100"),
	})
	assert.ErrorIs(t, err, domain.ErrUserFrozen)
}

func TestConfirmReleasesFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "1000")

	tr, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("500"),
	})
	require.NoError(t, err)

	confirmed, err := svc.ConfirmByCode(ctx, ConfirmRequest{
		ReceiverCode: tr.ReceiverCode,
		CallerID:     office.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCompleted, confirmed.Status)
	require.NotNil(t, confirmed.CompletedAt)

	// Office receives amount + its commission; the system commission lands
	// in the pool; money is conserved.
	officeBalance := testutil.GetBalance(t, db, office.ID, domain.CurrencyLYD)
	assert.True(t, officeBalance.Equal(d("507.5")), "office balance %s", officeBalance)

	senderBalance := testutil.GetBalance(t, db, sender.ID, domain.CurrencyLYD)
	assert.True(t, senderBalance.Equal(d("487.5")), "sender balance %s", senderBalance)

	pool := testutil.PoolBalance(t, db, domain.CurrencyLYD)
	assert.True(t, pool.Equal(d("5")), "pool balance %s", pool)
}

func TestConfirmRetryReportsAlreadyProcessed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "1000")

	tr, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("500"),
	})
	require.NoError(t, err)

	req := ConfirmRequest{ReceiverCode: tr.ReceiverCode, CallerID: office.ID}
	_, err = svc.ConfirmByCode(ctx, req)
	require.NoError(t, err)

	// The receiver retrying a settled confirm gets the idempotent-retry
	// signal, not a generic state error, and nothing moves twice.
	_, err = svc.ConfirmByCode(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	officeBalance := testutil.GetBalance(t, db, office.ID, domain.CurrencyLYD)
	assert.True(t, officeBalance.Equal(d("507.5")), "office balance %s", officeBalance)
	pool := testutil.PoolBalance(t, db, domain.CurrencyLYD)
	assert.True(t, pool.Equal(d("5")), "pool balance %s", pool)
}

func TestConfirmWrongReceiver(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	other := testutil.SeedUser(t, db, "other@example.com", "Other", domain.RoleCustomer)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "1000")

	tr, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("100"),
	})
	require.NoError(t, err)

	_, err = svc.ConfirmByCode(ctx, ConfirmRequest{
		ReceiverCode: tr.ReceiverCode,
		CallerID:     other.ID,
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestConfirmWithReferral(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	referrer := testutil.SeedUser(t, db, "referrer@example.com", "Referrer", domain.RoleCustomer)
	sender := testutil.SeedReferredUser(t, db, "sender@example.com", "Sender", referrer.ID)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "1000")

	svc := newTestService(t, db, referral.Config{
		Enabled: true,
		Rewards: map[domain.OperationType]decimal.Decimal{
			domain.OpInterOfficeTransfer: d("2"),
		},
	})

	tr, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("500"),
	})
	require.NoError(t, err)

	_, err = svc.ConfirmByCode(ctx, ConfirmRequest{
		ReceiverCode: tr.ReceiverCode,
		CallerID:     office.ID,
	})
	require.NoError(t, err)

	// System commission 5 splits into 2 reward + 3 pool.
	referrerBalance := testutil.GetBalance(t, db, referrer.ID, domain.CurrencyLYD)
	assert.True(t, referrerBalance.Equal(d("2")), "referrer balance %s", referrerBalance)

	pool := testutil.PoolBalance(t, db, domain.CurrencyLYD)
	assert.True(t, pool.Equal(d("3")), "pool balance %s", pool)

	rewards, err := repository.NewReferralRepository(db).ListByReferrer(ctx, referrer.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, sender.ID, rewards[0].ReferredUserID)
	assert.Equal(t, tr.ID, rewards[0].OperationRef)
	assert.Equal(t, domain.OpInterOfficeTransfer, rewards[0].OperationType)
	assert.True(t, rewards[0].RewardAmount.Equal(d("2")), "reward amount %s", rewards[0].RewardAmount)
}

func TestConcurrentConfirmSettlesOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "1000")

	tr, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("500"),
	})
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.ConfirmByCode(ctx, ConfirmRequest{
				ReceiverCode: tr.ReceiverCode,
				CallerID:     office.ID,
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one confirm must win")

	// Funds credited once, pool credited once.
	officeBalance := testutil.GetBalance(t, db, office.ID, domain.CurrencyLYD)
	assert.True(t, officeBalance.Equal(d("507.5")), "office balance %s", officeBalance)
	pool := testutil.PoolBalance(t, db, domain.CurrencyLYD)
	assert.True(t, pool.Equal(d("5")), "pool balance %s", pool)
}

func TestCancelRefundsHold(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "1000")

	tr, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("500"),
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, tr.ID, sender)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCancelled, cancelled.Status)

	// Cancellation is revenue neutral: full hold back, nothing in the pool.
	senderBalance := testutil.GetBalance(t, db, sender.ID, domain.CurrencyLYD)
	assert.True(t, senderBalance.Equal(d("1000")), "sender balance %s", senderBalance)
	assert.True(t, testutil.PoolBalance(t, db, domain.CurrencyLYD).IsZero())

	// A cancelled transfer can no longer be confirmed.
	_, err = svc.ConfirmByCode(ctx, ConfirmRequest{
		ReceiverCode: tr.ReceiverCode,
		CallerID:     office.ID,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
}

func TestCancelOnlySenderOrAdmin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	admin := testutil.SeedUser(t, db, "admin@example.com", "Admin", domain.RoleAdmin)
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "1000")

	tr, err := svc.Create(ctx, CreateRequest{
		SenderID:   sender.ID,
		Type:       domain.TransferTypeInterOffice,
		ReceiverID: &office.ID,
		Currency:   domain.CurrencyLYD,
		Amount:     d("100"),
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, tr.ID, office)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Cancel(ctx, tr.ID, admin)
	require.NoError(t, err)
}

func TestConcurrentCreatesCannotOverdraw(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db, "sender@example.com", "Sender", domain.RoleCustomer)
	office := testutil.SeedUser(t, db, "office@example.com", "Office", domain.RoleOffice)
	// Each transfer holds 102.5; the balance covers four of them.
	testutil.SeedBalance(t, db, sender.ID, domain.CurrencyLYD, "450")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Create(ctx, CreateRequest{
				SenderID:   sender.ID,
				Type:       domain.TransferTypeInterOffice,
				ReceiverID: &office.ID,
				Currency:   domain.CurrencyLYD,
				Amount:     d("100"),
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 4, succeeded, "only four holds fit in the balance")

	balance := testutil.GetBalance(t, db, sender.ID, domain.CurrencyLYD)
	assert.True(t, balance.Equal(d("40")), "remaining balance %s", balance)
	assert.False(t, balance.IsNegative())
}
