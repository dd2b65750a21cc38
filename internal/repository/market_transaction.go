package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
)

const marketTxColumns = `id, offer_id, taker_id, amount, total_cost, commission, created_at`

type MarketTransactionRepository struct {
	db *sql.DB
}

func NewMarketTransactionRepository(db *sql.DB) *MarketTransactionRepository {
	return &MarketTransactionRepository{db: db}
}

func (r *MarketTransactionRepository) Create(ctx context.Context, tx *sql.Tx, mt *domain.MarketTransaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO market_transactions (id, offer_id, taker_id, amount, total_cost, commission, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		mt.ID, mt.OfferID, mt.TakerID, mt.Amount, mt.TotalCost, mt.Commission, mt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *MarketTransactionRepository) GetByOfferID(ctx context.Context, offerID uuid.UUID) ([]domain.MarketTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+marketTxColumns+` FROM market_transactions
		WHERE offer_id = $1 ORDER BY created_at`,
		offerID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByOfferID: %w", err)
	}
	defer rows.Close()

	var txs []domain.MarketTransaction
	for rows.Next() {
		var mt domain.MarketTransaction
		if err := rows.Scan(&mt.ID, &mt.OfferID, &mt.TakerID, &mt.Amount, &mt.TotalCost, &mt.Commission, &mt.CreatedAt); err != nil {
			return nil, fmt.Errorf("GetByOfferID: scan: %w", err)
		}
		txs = append(txs, mt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByOfferID: rows: %w", err)
	}
	return txs, nil
}
