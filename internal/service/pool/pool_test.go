package pool

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/repository"
	"github.com/sarrafnet/sarraf-backend/internal/testutil"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, db *sql.DB) *Service {
	t.Helper()
	return NewService(repository.NewPoolRepository(db), nil, db)
}

func creditPool(t *testing.T, db *sql.DB, currency domain.Currency, amount string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO commission_pool_transactions
			(id, source_type, currency_code, amount, transaction_type, description, created_at)
		 VALUES ($1, 'adjustment', $2, $3, 'credit', 'test credit', $4)`,
		uuid.New(), currency, amount, time.Now().UTC(),
	)
	require.NoError(t, err)
}

func TestGetBalanceSumsCreditsAndDebits(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	creditPool(t, db, domain.CurrencyLYD, "10")
	creditPool(t, db, domain.CurrencyLYD, "7.5")
	creditPool(t, db, domain.CurrencyUSD, "3")

	balance, err := svc.GetBalance(ctx, domain.CurrencyLYD)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("17.5")), "LYD pool %s", balance)

	balance, err = svc.GetBalance(ctx, domain.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("3")), "USD pool %s", balance)

	// Empty pools read as zero, not as missing.
	balance, err = svc.GetBalance(ctx, domain.CurrencyEUR)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestWithdraw(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	admin := testutil.SeedUser(t, db, "admin@example.com", "Admin", domain.RoleAdmin)
	creditPool(t, db, domain.CurrencyLYD, "100")

	pt, err := svc.Withdraw(ctx, admin, WithdrawRequest{
		Currency:    domain.CurrencyLYD,
		Amount:      d("40"),
		Description: "monthly payout",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PoolDebit, pt.Type)

	balance, err := svc.GetBalance(ctx, domain.CurrencyLYD)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("60")), "pool %s", balance)
}

func TestWithdrawGuards(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	admin := testutil.SeedUser(t, db, "admin@example.com", "Admin", domain.RoleAdmin)
	customer := testutil.SeedUser(t, db, "customer@example.com", "Customer", domain.RoleCustomer)
	creditPool(t, db, domain.CurrencyLYD, "10")

	_, err := svc.Withdraw(ctx, customer, WithdrawRequest{Currency: domain.CurrencyLYD, Amount: d("5")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Withdraw(ctx, admin, WithdrawRequest{Currency: domain.CurrencyLYD, Amount: d("50")})
	assert.ErrorIs(t, err, domain.ErrInsufficientPoolBalance)

	_, err = svc.Withdraw(ctx, admin, WithdrawRequest{Currency: domain.CurrencyLYD, Amount: d("-1")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Withdraw(ctx, admin, WithdrawRequest{Currency: "XXX", Amount: d("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	balance, err := svc.GetBalance(ctx, domain.CurrencyLYD)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("10")), "pool must be untouched, got %s", balance)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	admin := testutil.SeedUser(t, db, "admin@example.com", "Admin", domain.RoleAdmin)
	creditPool(t, db, domain.CurrencyLYD, "100")

	// The pool covers two 40s, not three.
	const attempts = 3
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Withdraw(ctx, admin, WithdrawRequest{
				Currency: domain.CurrencyLYD,
				Amount:   d("40"),
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
	assert.Equal(t, 2, succeeded)

	balance, err := svc.GetBalance(ctx, domain.CurrencyLYD)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("20")), "pool %s", balance)
	assert.False(t, balance.IsNegative())
}

func TestListTransactions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	admin := testutil.SeedUser(t, db, "admin@example.com", "Admin", domain.RoleAdmin)
	creditPool(t, db, domain.CurrencyLYD, "100")

	_, err := svc.Withdraw(ctx, admin, WithdrawRequest{Currency: domain.CurrencyLYD, Amount: d("30")})
	require.NoError(t, err)

	txs, err := svc.ListTransactions(ctx, domain.CurrencyLYD, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	// Newest first.
	assert.Equal(t, domain.PoolDebit, txs[0].Type)
	assert.Equal(t, domain.PoolCredit, txs[1].Type)
}
