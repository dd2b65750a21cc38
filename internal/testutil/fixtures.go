package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func SeedUser(t *testing.T, db *sql.DB, email, name string, role domain.UserRole) *domain.User {
	t.Helper()
	return seedUser(t, db, email, name, role, nil)
}

// SeedReferredUser creates an active customer linked to referrerID.
func SeedReferredUser(t *testing.T, db *sql.DB, email, name string, referrerID uuid.UUID) *domain.User {
	t.Helper()
	return seedUser(t, db, email, name, domain.RoleCustomer, &referrerID)
}

func seedUser(t *testing.T, db *sql.DB, email, name string, role domain.UserRole, referredBy *uuid.UUID) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		Status:       domain.UserStatusActive,
		ReferredBy:   referredBy,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = db.Exec(
		`INSERT INTO users (id, email, name, password_hash, role, status, referred_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.Status, u.ReferredBy, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func SetUserStatus(t *testing.T, db *sql.DB, userID uuid.UUID, status domain.UserStatus) {
	t.Helper()
	if _, err := db.Exec(`UPDATE users SET status = $2 WHERE id = $1`, userID, status); err != nil {
		t.Fatalf("set user status: %v", err)
	}
}

func SeedBalance(t *testing.T, db *sql.DB, userID uuid.UUID, currency domain.Currency, amount string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO balances (user_id, currency, amount, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, currency) DO UPDATE SET amount = EXCLUDED.amount`,
		userID, currency, amount,
	)
	if err != nil {
		t.Fatalf("seed balance %s %s: %v", currency, amount, err)
	}
}

func GetBalance(t *testing.T, db *sql.DB, userID uuid.UUID, currency domain.Currency) decimal.Decimal {
	t.Helper()
	var amount decimal.Decimal
	err := db.QueryRow(
		`SELECT amount FROM balances WHERE user_id = $1 AND currency = $2`,
		userID, currency,
	).Scan(&amount)
	if err != nil {
		t.Fatalf("get balance %s: %v", currency, err)
	}
	return amount
}

// SeedCommissionRate installs a flat system rate for one operation type.
func SeedCommissionRate(t *testing.T, db *sql.DB, op domain.OperationType, currency domain.Currency, kind domain.RateKind, value string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO commission_rates (transfer_type, currency, kind, value, is_active)
		 VALUES ($1, $2, $3, $4, TRUE)`,
		op, currency, kind, value,
	)
	if err != nil {
		t.Fatalf("seed commission rate: %v", err)
	}
}

// SeedOfficeRate installs an office's flat recipient rate.
func SeedOfficeRate(t *testing.T, db *sql.DB, officeID uuid.UUID, currency domain.Currency, kind domain.RateKind, value string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO office_rates (office_id, currency, kind, value, is_active)
		 VALUES ($1, $2, $3, $4, TRUE)`,
		officeID, currency, kind, value,
	)
	if err != nil {
		t.Fatalf("seed office rate: %v", err)
	}
}

// SeedOfficeTier installs an amount-range recipient tier, optionally pinned
// to a city pair.
func SeedOfficeTier(t *testing.T, db *sql.DB, officeID uuid.UUID, currency domain.Currency, minAmount, maxAmount string, originCity, destCity *string, kind domain.RateKind, value string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO office_commission_tiers (office_id, currency, min_amount, max_amount, origin_city, dest_city, kind, value, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
		officeID, currency, minAmount, maxAmount, originCity, destCity, kind, value,
	)
	if err != nil {
		t.Fatalf("seed office tier: %v", err)
	}
}

// PoolBalance sums the commission pool for a currency straight off the table.
func PoolBalance(t *testing.T, db *sql.DB, currency domain.Currency) decimal.Decimal {
	t.Helper()
	var balance decimal.Decimal
	err := db.QueryRow(
		`SELECT COALESCE(SUM(CASE WHEN transaction_type = 'credit' THEN amount ELSE -amount END), 0)
		 FROM commission_pool_transactions WHERE currency_code = $1`,
		currency,
	).Scan(&balance)
	if err != nil {
		t.Fatalf("pool balance %s: %v", currency, err)
	}
	return balance
}
