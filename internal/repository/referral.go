package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
)

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// GetActiveReferrer returns the payer's referrer if the payer was referred
// and the referrer is still an active user.
func (r *ReferralRepository) GetActiveReferrer(ctx context.Context, payerID uuid.UUID) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		WHERE id = (SELECT referred_by FROM users WHERE id = $1)
		AND status = 'active'`,
		payerID,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetActiveReferrer: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetActiveReferrer: %w", err)
	}
	return u, nil
}

// CreateReward inserts the reward row. The unique index on
// (operation_ref, operation_type) makes a second reward for the same
// operation impossible.
func (r *ReferralRepository) CreateReward(ctx context.Context, tx *sql.Tx, reward *domain.ReferralReward) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO referral_rewards (
			id, referrer_id, referred_user_id, operation_ref, operation_type,
			currency, reward_amount, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reward.ID, reward.ReferrerID, reward.ReferredUserID, reward.OperationRef,
		reward.OperationType, reward.Currency, reward.RewardAmount, reward.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("CreateReward: %w", domain.ErrAlreadyProcessed)
		}
		return fmt.Errorf("CreateReward: %w", err)
	}
	return nil
}

func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID uuid.UUID, limit, offset int) ([]domain.ReferralReward, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, referrer_id, referred_user_id, operation_ref, operation_type,
			currency, reward_amount, created_at
		FROM referral_rewards WHERE referrer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		referrerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByReferrer: %w", err)
	}
	defer rows.Close()

	var rewards []domain.ReferralReward
	for rows.Next() {
		var rw domain.ReferralReward
		err := rows.Scan(
			&rw.ID, &rw.ReferrerID, &rw.ReferredUserID, &rw.OperationRef,
			&rw.OperationType, &rw.Currency, &rw.RewardAmount, &rw.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ListByReferrer: scan: %w", err)
		}
		rewards = append(rewards, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByReferrer: rows: %w", err)
	}
	return rewards, nil
}
