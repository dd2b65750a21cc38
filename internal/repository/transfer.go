package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
)

const transferColumns = `id, transfer_type, sender_id, receiver_id, currency, amount,
	recipient_commission, system_commission, status, receiver_code,
	origin_city, dest_city, dest_country, note, created_at, completed_at`

type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, tx *sql.Tx, t *domain.Transfer) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transfers (
			id, transfer_type, sender_id, receiver_id, currency, amount,
			recipient_commission, system_commission, status, receiver_code,
			origin_city, dest_city, dest_country, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.Type, t.SenderID, t.ReceiverID, t.Currency, t.Amount,
		t.RecipientCommission, t.SystemCommission, t.Status, t.ReceiverCode,
		t.OriginCity, t.DestCity, t.DestCountry, t.Note, t.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("Create: receiver code collision: %w", domain.ErrAlreadyProcessed)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id,
	)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) GetByReceiverCode(ctx context.Context, code string) (*domain.Transfer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE receiver_code = $1
		ORDER BY created_at DESC LIMIT 1`,
		code,
	)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReceiverCode: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReceiverCode: %w", err)
	}
	return t, nil
}

// GetForUpdate locks the transfer row inside tx.
func (r *TransferRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transfer, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id,
	)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return t, nil
}

// Complete transitions pending -> completed. Zero affected rows means the
// transfer was already confirmed or cancelled by a concurrent caller.
func (r *TransferRepository) Complete(ctx context.Context, tx *sql.Tx, id uuid.UUID, completedAt time.Time) error {
	return r.transition(ctx, tx, id, domain.TransferStatusCompleted, &completedAt)
}

// Cancel transitions pending -> cancelled under the same guard.
func (r *TransferRepository) Cancel(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	return r.transition(ctx, tx, id, domain.TransferStatusCancelled, nil)
}

func (r *TransferRepository) transition(ctx context.Context, tx *sql.Tx, id uuid.UUID, to domain.TransferStatus, completedAt *time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transfers SET status = $2, completed_at = $3
		WHERE id = $1 AND status = 'pending'`,
		id, to, completedAt,
	)
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("transition to %s: %w", to, domain.ErrAlreadyProcessed)
	}
	return nil
}

func (r *TransferRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transfer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListForUser: %w", err)
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("ListForUser: scan: %w", err)
		}
		transfers = append(transfers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListForUser: rows: %w", err)
	}
	return transfers, nil
}

func scanTransfer(s scanner) (*domain.Transfer, error) {
	var t domain.Transfer
	err := s.Scan(
		&t.ID, &t.Type, &t.SenderID, &t.ReceiverID, &t.Currency, &t.Amount,
		&t.RecipientCommission, &t.SystemCommission, &t.Status, &t.ReceiverCode,
		&t.OriginCity, &t.DestCity, &t.DestCountry, &t.Note, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
