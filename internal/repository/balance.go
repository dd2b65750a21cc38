package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/shopspring/decimal"
)

// BalanceRepository owns the (user_id, currency) balance rows. Every mutation
// is a single conditional UPDATE so two concurrent operations on the same row
// can never lose an update; a debit that would go negative affects zero rows
// and surfaces as ErrInsufficientFunds.
type BalanceRepository struct {
	db *sql.DB
}

func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) Get(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Balance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_id, currency, amount, updated_at FROM balances
		WHERE user_id = $1 AND currency = $2`,
		userID, currency,
	)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return b, nil
}

func (r *BalanceRepository) GetAllForUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, currency, amount, updated_at FROM balances
		WHERE user_id = $1 ORDER BY currency`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAllForUser: %w", err)
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("GetAllForUser: scan: %w", err)
		}
		balances = append(balances, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetAllForUser: rows: %w", err)
	}
	return balances, nil
}

// GetForUpdate locks one balance row for the duration of tx. The row must
// exist; callers debiting a wallet that was never funded get ErrNotFound,
// which the services translate to ErrInsufficientFunds.
func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency) (*domain.Balance, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT user_id, currency, amount, updated_at FROM balances
		WHERE user_id = $1 AND currency = $2 FOR UPDATE`,
		userID, currency,
	)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return b, nil
}

// Ensure creates a zero balance row if none exists, so the row can be locked
// with GetForUpdate before a credit.
func (r *BalanceRepository) Ensure(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balances (user_id, currency, amount, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (user_id, currency) DO NOTHING`,
		userID, currency,
	)
	if err != nil {
		return fmt.Errorf("Ensure: %w", err)
	}
	return nil
}

// Credit adds amount to the balance, creating the row on first credit.
// Returns the balance after the mutation.
func (r *BalanceRepository) Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`INSERT INTO balances (user_id, currency, amount, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, currency)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
		RETURNING amount`,
		userID, currency, amount,
	).Scan(&newBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Credit: %w", err)
	}
	return newBalance, nil
}

// Debit subtracts amount from the balance. The guard in the WHERE clause is
// what keeps balances non-negative: if the row is missing or too small the
// update affects nothing and the debit fails closed.
func (r *BalanceRepository) Debit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`UPDATE balances SET amount = amount - $3, updated_at = now()
		WHERE user_id = $1 AND currency = $2 AND amount >= $3
		RETURNING amount`,
		userID, currency, amount,
	).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("Debit: %w", domain.ErrInsufficientFunds)
		}
		return decimal.Zero, fmt.Errorf("Debit: %w", err)
	}
	return newBalance, nil
}

func scanBalance(s scanner) (*domain.Balance, error) {
	var b domain.Balance
	if err := s.Scan(&b.UserID, &b.Currency, &b.Amount, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
