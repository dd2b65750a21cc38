package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
)

// RateConfigRepository reads the admin-maintained commission tables. The
// engine resolves rates once per operation and never caches them beyond it,
// so an admin edit takes effect on the next operation.
type RateConfigRepository struct {
	db *sql.DB
}

func NewRateConfigRepository(db *sql.DB) *RateConfigRepository {
	return &RateConfigRepository{db: db}
}

// GetRates returns every active rate row for an operation and currency.
// More than one row can be configured (e.g. a fixed fee plus a per-mille
// fallback); the calculator resolves the precedence.
func (r *RateConfigRepository) GetRates(ctx context.Context, op domain.OperationType, currency domain.Currency) ([]domain.CommissionRate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, transfer_type, currency, kind, value, is_active
		FROM commission_rates
		WHERE transfer_type = $1 AND currency = $2 AND is_active
		ORDER BY id`,
		op, currency,
	)
	if err != nil {
		return nil, fmt.Errorf("GetRates: %w", err)
	}
	defer rows.Close()

	var rates []domain.CommissionRate
	for rows.Next() {
		var cr domain.CommissionRate
		if err := rows.Scan(&cr.ID, &cr.Operation, &cr.Currency, &cr.Kind, &cr.Value, &cr.IsActive); err != nil {
			return nil, fmt.Errorf("GetRates: scan: %w", err)
		}
		rates = append(rates, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetRates: rows: %w", err)
	}
	return rates, nil
}

// GetOfficeRate returns the receiving office's flat rate for a currency, or
// ErrNotFound when the office has none configured.
func (r *RateConfigRepository) GetOfficeRate(ctx context.Context, officeID uuid.UUID, currency domain.Currency) (*domain.CommissionRate, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, currency, kind, value, is_active
		FROM office_rates
		WHERE office_id = $1 AND currency = $2 AND is_active
		ORDER BY id LIMIT 1`,
		officeID, currency,
	)
	var cr domain.CommissionRate
	err := row.Scan(&cr.ID, &cr.Currency, &cr.Kind, &cr.Value, &cr.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetOfficeRate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetOfficeRate: %w", err)
	}
	return &cr, nil
}

// GetOfficeTiers returns the active tiers for a receiving office and currency.
func (r *RateConfigRepository) GetOfficeTiers(ctx context.Context, officeID uuid.UUID, currency domain.Currency) ([]domain.OfficeCommissionTier, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, office_id, currency, min_amount, max_amount, origin_city,
			dest_city, kind, value, is_active
		FROM office_commission_tiers
		WHERE office_id = $1 AND currency = $2 AND is_active
		ORDER BY min_amount`,
		officeID, currency,
	)
	if err != nil {
		return nil, fmt.Errorf("GetOfficeTiers: %w", err)
	}
	defer rows.Close()

	var tiers []domain.OfficeCommissionTier
	for rows.Next() {
		var t domain.OfficeCommissionTier
		err := rows.Scan(
			&t.ID, &t.OfficeID, &t.Currency, &t.MinAmount, &t.MaxAmount,
			&t.OriginCity, &t.DestCity, &t.Kind, &t.Value, &t.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("GetOfficeTiers: scan: %w", err)
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetOfficeTiers: rows: %w", err)
	}
	return tiers, nil
}
