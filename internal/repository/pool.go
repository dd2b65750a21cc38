package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/shopspring/decimal"
)

const poolTxColumns = `id, source_type, source_id, currency_code, amount,
	transaction_type, related_transaction_id, description, created_at`

// PoolRepository is the platform revenue ledger. Strictly append-only: there
// is no update or delete path, corrections go in as compensating entries.
type PoolRepository struct {
	db *sql.DB
}

func NewPoolRepository(db *sql.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

func (r *PoolRepository) Add(ctx context.Context, tx *sql.Tx, pt *domain.CommissionPoolTransaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO commission_pool_transactions (
			id, source_type, source_id, currency_code, amount,
			transaction_type, related_transaction_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pt.ID, pt.SourceType, pt.SourceID, pt.CurrencyCode, pt.Amount,
		pt.Type, pt.RelatedTransactionID, pt.Description, pt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}
	return nil
}

// GetBalance is the running sum of credits minus debits for one currency.
func (r *PoolRepository) GetBalance(ctx context.Context, currency domain.Currency) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN transaction_type = 'credit' THEN amount ELSE -amount END), 0)
		FROM commission_pool_transactions WHERE currency_code = $1`,
		currency,
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("GetBalance: %w", err)
	}
	return balance, nil
}

// LockCurrency serializes pool mutations per currency for the duration of tx.
// An append-only table has no row to SELECT FOR UPDATE, so a transaction
// scoped advisory lock stands in.
func (r *PoolRepository) LockCurrency(ctx context.Context, tx *sql.Tx, currency domain.Currency) error {
	_, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('commission_pool_' || $1::text))`,
		currency,
	)
	if err != nil {
		return fmt.Errorf("LockCurrency: %w", err)
	}
	return nil
}

// GetBalanceTx computes the balance inside tx, after LockCurrency.
func (r *PoolRepository) GetBalanceTx(ctx context.Context, tx *sql.Tx, currency domain.Currency) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN transaction_type = 'credit' THEN amount ELSE -amount END), 0)
		FROM commission_pool_transactions WHERE currency_code = $1`,
		currency,
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("GetBalanceTx: %w", err)
	}
	return balance, nil
}

func (r *PoolRepository) ListByCurrency(ctx context.Context, currency domain.Currency, limit, offset int) ([]domain.CommissionPoolTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+poolTxColumns+` FROM commission_pool_transactions
		WHERE currency_code = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		currency, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByCurrency: %w", err)
	}
	defer rows.Close()

	var txs []domain.CommissionPoolTransaction
	for rows.Next() {
		var pt domain.CommissionPoolTransaction
		err := rows.Scan(
			&pt.ID, &pt.SourceType, &pt.SourceID, &pt.CurrencyCode, &pt.Amount,
			&pt.Type, &pt.RelatedTransactionID, &pt.Description, &pt.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ListByCurrency: scan: %w", err)
		}
		txs = append(txs, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByCurrency: rows: %w", err)
	}
	return txs, nil
}

// CountBySource reports how many entries exist for one source entity, used to
// verify no duplicate commission was ever posted for the same source.
func (r *PoolRepository) CountBySource(ctx context.Context, sourceType domain.PoolSourceType, sourceID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commission_pool_transactions
		WHERE source_type = $1 AND source_id = $2`,
		sourceType, sourceID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CountBySource: %w", err)
	}
	return count, nil
}
