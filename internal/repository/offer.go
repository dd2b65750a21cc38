package repository

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

const offerColumns = `id, user_id, side, base_currency, quote_currency, price,
	min_amount, max_amount, remaining_amount, status, commission_deducted,
	expires_at, created_at`

type OfferRepository struct {
	db *sql.DB
}

func NewOfferRepository(db *sql.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

func (r *OfferRepository) Create(ctx context.Context, tx *sql.Tx, o *domain.MarketOffer) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO market_offers (
			id, user_id, side, base_currency, quote_currency, price,
			min_amount, max_amount, remaining_amount, status, commission_deducted,
			expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.UserID, o.Side, o.BaseCurrency, o.QuoteCurrency, o.Price,
		o.MinAmount, o.MaxAmount, o.RemainingAmount, o.Status, o.CommissionDeducted,
		o.ExpiresAt, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OfferRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.MarketOffer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM market_offers WHERE id = $1`, id,
	)
	o, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

func (r *OfferRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.MarketOffer, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM market_offers WHERE id = $1 FOR UPDATE`, id,
	)
	o, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return o, nil
}

// ApplyFill decrements remaining_amount and closes the offer when it reaches
// zero, all in one guarded statement. Zero affected rows means the offer is
// no longer open or no longer has that much remaining.
func (r *OfferRepository) ApplyFill(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) (remaining decimal.Decimal, err error) {
	err = tx.QueryRowContext(ctx,
		`UPDATE market_offers
		SET remaining_amount = remaining_amount - $2,
			status = CASE WHEN remaining_amount - $2 <= 0 THEN 'cancelled' ELSE status END
		WHERE id = $1 AND status = 'open' AND remaining_amount >= $2
		RETURNING remaining_amount`,
		id, amount,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("ApplyFill: %w", domain.ErrOfferNotOpen)
		}
		return decimal.Zero, fmt.Errorf("ApplyFill: %w", err)
	}
	return remaining, nil
}

// MarkCommissionDeducted flips the one-shot flag. The caller charges the
// commission only when this reports true; repeat calls return false and the
// fee is never applied twice.
func (r *OfferRepository) MarkCommissionDeducted(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE market_offers SET commission_deducted = TRUE
		WHERE id = $1 AND commission_deducted = FALSE`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("MarkCommissionDeducted: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("MarkCommissionDeducted: rows affected: %w", err)
	}
	return rows > 0, nil
}

// Close transitions open -> cancelled and zeroes the remainder. Callers read
// the remaining amount under lock before closing; zero affected rows means a
// concurrent fill or cancel got there first.
func (r *OfferRepository) Close(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE market_offers SET remaining_amount = 0, status = 'cancelled'
		WHERE id = $1 AND status = 'open'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Close: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Close: %w", domain.ErrOfferNotOpen)
	}
	return nil
}

func (r *OfferRepository) ListOpen(ctx context.Context, base, quote domain.Currency, limit, offset int) ([]domain.MarketOffer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM market_offers
		WHERE status = 'open' AND base_currency = $1 AND quote_currency = $2
		ORDER BY price ASC, created_at ASC LIMIT $3 OFFSET $4`,
		base, quote, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListOpen: %w", err)
	}
	defer rows.Close()

	var offers []domain.MarketOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("ListOpen: scan: %w", err)
		}
		offers = append(offers, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListOpen: rows: %w", err)
	}
	return offers, nil
}

// ListExpired returns open offers whose expiry has passed, for the sweeper.
func (r *OfferRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.MarketOffer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM market_offers
		WHERE status = 'open' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListExpired: %w", err)
	}
	defer rows.Close()

	var offers []domain.MarketOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("ListExpired: scan: %w", err)
		}
		offers = append(offers, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListExpired: rows: %w", err)
	}
	return offers, nil
}

func scanOffer(s scanner) (*domain.MarketOffer, error) {
	var o domain.MarketOffer
	err := s.Scan(
		&o.ID, &o.UserID, &o.Side, &o.BaseCurrency, &o.QuoteCurrency, &o.Price,
		&o.MinAmount, &o.MaxAmount, &o.RemainingAmount, &o.Status, &o.CommissionDeducted,
		&o.ExpiresAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
