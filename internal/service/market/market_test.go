package market

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

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
	offers := repository.NewOfferRepository(db)
	fills := repository.NewMarketTransactionRepository(db)
	poolRepo := repository.NewPoolRepository(db)
	referrals := repository.NewReferralRepository(db)
	rates := repository.NewRateConfigRepository(db)

	calculator := commission.NewCalculator(rates)
	allocator := referral.NewAllocator(referralCfg, referrals, referrals, poolRepo, balances)

	return NewService(users, balances, offers, fills, calculator, allocator, nil, db)
}

func seedSellOffer(t *testing.T, svc *Service, db *sql.DB) (*domain.User, *domain.MarketOffer) {
	t.Helper()

	maker := testutil.SeedUser(t, db, "maker@example.com", "Maker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, maker.ID, domain.CurrencyUSD, "200")

	o, err := svc.CreateOffer(context.Background(), CreateOfferRequest{
		UserID:        maker.ID,
		Side:          domain.OfferSideSell,
		BaseCurrency:  domain.CurrencyUSD,
		QuoteCurrency: domain.CurrencyLYD,
		Price:         d("5.5"),
		MinAmount:     d("10"),
		MaxAmount:     d("100"),
	})
	require.NoError(t, err)
	return maker, o
}

func TestCreateSellOfferReservesBase(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})

	maker, o := seedSellOffer(t, svc, db)

	assert.Equal(t, domain.OfferStatusOpen, o.Status)
	assert.True(t, o.RemainingAmount.Equal(d("100")))
	assert.False(t, o.CommissionDeducted)

	// The 100 USD on offer is escrowed immediately.
	balance := testutil.GetBalance(t, db, maker.ID, domain.CurrencyUSD)
	assert.True(t, balance.Equal(d("100")), "maker USD %s", balance)
}

func TestCreateSellOfferInsufficientFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})

	maker := testutil.SeedUser(t, db, "maker@example.com", "Maker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, maker.ID, domain.CurrencyUSD, "50")

	_, err := svc.CreateOffer(context.Background(), CreateOfferRequest{
		UserID:        maker.ID,
		Side:          domain.OfferSideSell,
		BaseCurrency:  domain.CurrencyUSD,
		QuoteCurrency: domain.CurrencyLYD,
		Price:         d("5.5"),
		MinAmount:     d("10"),
		MaxAmount:     d("100"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestCreateBuyOfferReservesNothing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})

	maker := testutil.SeedUser(t, db, "maker@example.com", "Maker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, maker.ID, domain.CurrencyLYD, "1000")

	_, err := svc.CreateOffer(context.Background(), CreateOfferRequest{
		UserID:        maker.ID,
		Side:          domain.OfferSideBuy,
		BaseCurrency:  domain.CurrencyUSD,
		QuoteCurrency: domain.CurrencyLYD,
		Price:         d("5.5"),
		MinAmount:     d("10"),
		MaxAmount:     d("100"),
	})
	require.NoError(t, err)

	balance := testutil.GetBalance(t, db, maker.ID, domain.CurrencyLYD)
	assert.True(t, balance.Equal(d("1000")), "maker LYD %s", balance)
}

func TestFillSellOffer(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	maker, o := seedSellOffer(t, svc, db)
	taker := testutil.SeedUser(t, db, "taker@example.com", "Taker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, taker.ID, domain.CurrencyLYD, "1000")

	mt, err := svc.ExecuteFill(ctx, FillRequest{
		OfferID: o.ID,
		TakerID: taker.ID,
		Amount:  d("40"),
	})
	require.NoError(t, err)

	// 40 USD at 5.5 costs 220 LYD.
	assert.True(t, mt.TotalCost.Equal(d("220")), "total cost %s", mt.TotalCost)

	takerLYD := testutil.GetBalance(t, db, taker.ID, domain.CurrencyLYD)
	assert.True(t, takerLYD.Equal(d("780")), "taker LYD %s", takerLYD)
	takerUSD := testutil.GetBalance(t, db, taker.ID, domain.CurrencyUSD)
	assert.True(t, takerUSD.Equal(d("40")), "taker USD %s", takerUSD)
	makerLYD := testutil.GetBalance(t, db, maker.ID, domain.CurrencyLYD)
	assert.True(t, makerLYD.Equal(d("220")), "maker LYD %s", makerLYD)

	// One-shot commission on the full notional (100 * 5.5 = 550, 1% = 5.5),
	// charged in base currency at the first fill.
	assert.True(t, mt.Commission.Equal(d("5.5")), "commission %s", mt.Commission)
	makerUSD := testutil.GetBalance(t, db, maker.ID, domain.CurrencyUSD)
	assert.True(t, makerUSD.Equal(d("94.5")), "maker USD %s", makerUSD)
	pool := testutil.PoolBalance(t, db, domain.CurrencyUSD)
	assert.True(t, pool.Equal(d("5.5")), "pool USD %s", pool)
}

func TestCommissionChargedOnlyOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	_, o := seedSellOffer(t, svc, db)
	taker := testutil.SeedUser(t, db, "taker@example.com", "Taker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, taker.ID, domain.CurrencyLYD, "1000")

	first, err := svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("40")})
	require.NoError(t, err)
	assert.True(t, first.Commission.Equal(d("5.5")))

	second, err := svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("30")})
	require.NoError(t, err)
	assert.True(t, second.Commission.IsZero(), "second fill commission %s", second.Commission)

	pool := testutil.PoolBalance(t, db, domain.CurrencyUSD)
	assert.True(t, pool.Equal(d("5.5")), "pool USD %s", pool)

	count, err := repository.NewPoolRepository(db).CountBySource(ctx, domain.PoolSourceMarketOffer, o.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "exactly one pool posting per offer")
}

func TestFillBounds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	_, o := seedSellOffer(t, svc, db)
	taker := testutil.SeedUser(t, db, "taker@example.com", "Taker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, taker.ID, domain.CurrencyLYD, "2000")

	// Below min_amount.
	_, err := svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("5")})
	assert.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	// Above remaining.
	_, err = svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("150")})
	assert.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	// Take the offer down to a remainder below min_amount.
	_, err = svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("95")})
	require.NoError(t, err)

	// The remainder (5) is under min (10) but may be taken exactly.
	_, err = svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("3")})
	assert.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	mt, err := svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("5")})
	require.NoError(t, err)
	assert.True(t, mt.Amount.Equal(d("5")))

	// Exhausted offers close.
	got, err := svc.GetOffer(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusCancelled, got.Status)
	assert.True(t, got.RemainingAmount.IsZero())
}

func TestFillSelfTrade(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})

	maker, o := seedSellOffer(t, svc, db)

	_, err := svc.ExecuteFill(context.Background(), FillRequest{
		OfferID: o.ID,
		TakerID: maker.ID,
		Amount:  d("10"),
	})
	assert.ErrorIs(t, err, domain.ErrSelfTrade)
}

func TestFillBuyOffer(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	maker := testutil.SeedUser(t, db, "maker@example.com", "Maker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, maker.ID, domain.CurrencyLYD, "1000")
	testutil.SeedBalance(t, db, maker.ID, domain.CurrencyUSD, "20")

	o, err := svc.CreateOffer(ctx, CreateOfferRequest{
		UserID:        maker.ID,
		Side:          domain.OfferSideBuy,
		BaseCurrency:  domain.CurrencyUSD,
		QuoteCurrency: domain.CurrencyLYD,
		Price:         d("5"),
		MinAmount:     d("10"),
		MaxAmount:     d("100"),
	})
	require.NoError(t, err)

	taker := testutil.SeedUser(t, db, "taker@example.com", "Taker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, taker.ID, domain.CurrencyUSD, "50")

	mt, err := svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("50")})
	require.NoError(t, err)
	assert.True(t, mt.TotalCost.Equal(d("250")))

	// Maker pays quote at fill time and receives base; commission on the
	// 500 LYD notional is 1% = 5, charged in USD.
	makerLYD := testutil.GetBalance(t, db, maker.ID, domain.CurrencyLYD)
	assert.True(t, makerLYD.Equal(d("750")), "maker LYD %s", makerLYD)
	makerUSD := testutil.GetBalance(t, db, maker.ID, domain.CurrencyUSD)
	assert.True(t, makerUSD.Equal(d("65")), "maker USD %s", makerUSD)

	takerUSD := testutil.GetBalance(t, db, taker.ID, domain.CurrencyUSD)
	assert.True(t, takerUSD.IsZero(), "taker USD %s", takerUSD)
	takerLYD := testutil.GetBalance(t, db, taker.ID, domain.CurrencyLYD)
	assert.True(t, takerLYD.Equal(d("250")), "taker LYD %s", takerLYD)
}

func TestCancelOfferRefundsRemainder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	maker, o := seedSellOffer(t, svc, db)
	taker := testutil.SeedUser(t, db, "taker@example.com", "Taker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, taker.ID, domain.CurrencyLYD, "1000")

	_, err := svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("40")})
	require.NoError(t, err)

	cancelled, err := svc.CancelOffer(ctx, o.ID, maker)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusCancelled, cancelled.Status)

	// Started with 200, escrowed 100, paid 5.5 commission, sold 40; the 60
	// remainder comes back on cancel and the commission does not.
	makerUSD := testutil.GetBalance(t, db, maker.ID, domain.CurrencyUSD)
	assert.True(t, makerUSD.Equal(d("154.5")), "maker USD %s", makerUSD)
	pool := testutil.PoolBalance(t, db, domain.CurrencyUSD)
	assert.True(t, pool.Equal(d("5.5")), "pool USD %s", pool)

	// No further fills.
	_, err = svc.ExecuteFill(ctx, FillRequest{OfferID: o.ID, TakerID: taker.ID, Amount: d("10")})
	assert.ErrorIs(t, err, domain.ErrOfferNotOpen)
}

func TestCancelOfferOnlyCreatorOrAdmin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	_, o := seedSellOffer(t, svc, db)
	stranger := testutil.SeedUser(t, db, "stranger@example.com", "Stranger", domain.RoleCustomer)

	_, err := svc.CancelOffer(ctx, o.ID, stranger)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	admin := testutil.SeedUser(t, db, "admin@example.com", "Admin", domain.RoleAdmin)
	_, err = svc.CancelOffer(ctx, o.ID, admin)
	require.NoError(t, err)
}

func TestConcurrentFillsNeverOversell(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	_, o := seedSellOffer(t, svc, db)

	const attempts = 6
	takers := make([]*domain.User, attempts)
	for i := range attempts {
		takers[i] = testutil.SeedUser(t, db, fmt.Sprintf("taker%d@example.com", i), "Taker", domain.RoleCustomer)
		testutil.SeedBalance(t, db, takers[i].ID, domain.CurrencyLYD, "1000")
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.ExecuteFill(ctx, FillRequest{
				OfferID: o.ID,
				TakerID: takers[i].ID,
				Amount:  d("30"),
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
	// 100 on offer fits three fills of 30; the rest lose the race.
	assert.Equal(t, 3, succeeded)

	got, err := svc.GetOffer(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingAmount.Equal(d("10")), "remaining %s", got.RemainingAmount)
}

func TestExpirySweeperClosesExpiredOffers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newTestService(t, db, referral.Config{})
	ctx := context.Background()

	maker := testutil.SeedUser(t, db, "maker@example.com", "Maker", domain.RoleCustomer)
	testutil.SeedBalance(t, db, maker.ID, domain.CurrencyUSD, "100")

	expiry := time.Now().Add(100 * time.Millisecond)
	o, err := svc.CreateOffer(ctx, CreateOfferRequest{
		UserID:        maker.ID,
		Side:          domain.OfferSideSell,
		BaseCurrency:  domain.CurrencyUSD,
		QuoteCurrency: domain.CurrencyLYD,
		Price:         d("5"),
		MinAmount:     d("10"),
		MaxAmount:     d("100"),
		ExpiresAt:     &expiry,
	})
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	sweeper := NewExpirySweeper(svc, slog.Default(), time.Hour)
	sweeper.sweep(ctx)

	got, err := svc.GetOffer(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusCancelled, got.Status)

	// Escrow came back.
	balance := testutil.GetBalance(t, db, maker.ID, domain.CurrencyUSD)
	assert.True(t, balance.Equal(d("100")), "maker USD %s", balance)
}
