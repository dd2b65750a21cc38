package transfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
)

// Cancel refunds the full hold to the sender. Only the sender or an admin
// may cancel, and only while the transfer is still pending. No commission
// sticks; cancellation is revenue neutral.
func (s *Service) Cancel(ctx context.Context, transferID uuid.UUID, caller *domain.User) (*domain.Transfer, error) {
	log := logging.FromContext(ctx)

	t, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("Cancel: %w", err)
	}
	if t.SenderID != caller.ID && caller.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("Cancel: %w", domain.ErrForbidden)
	}

	cancelled, err := s.executeCancel(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("Cancel: %w", err)
	}

	log.Info("transfer cancelled",
		"transfer_id", cancelled.ID,
		"sender_id", cancelled.SenderID,
		"currency", cancelled.Currency,
		"refund", cancelled.HeldAmount(),
	)

	s.publishTransferEvent(ctx, "transfer.cancelled", cancelled)
	return cancelled, nil
}

func (s *Service) executeCancel(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("executeCancel: %w", err)
	}
	defer tx.Rollback()

	current, err := s.transfers.GetForUpdate(ctx, tx, transferID)
	if err != nil {
		return nil, fmt.Errorf("executeCancel: %w", err)
	}
	if current.IsTerminal() {
		return nil, fmt.Errorf("executeCancel: %w", domain.ErrInvalidState)
	}

	if err := s.transfers.Cancel(ctx, tx, current.ID); err != nil {
		return nil, fmt.Errorf("executeCancel: %w", err)
	}

	if err := s.balances.Ensure(ctx, tx, current.SenderID, current.Currency); err != nil {
		return nil, fmt.Errorf("executeCancel: %w", err)
	}
	if _, err := s.balances.Credit(ctx, tx, current.SenderID, current.Currency, current.HeldAmount()); err != nil {
		return nil, fmt.Errorf("executeCancel: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("executeCancel: commit: %w", err)
	}

	current.Status = domain.TransferStatusCancelled
	return current, nil
}
