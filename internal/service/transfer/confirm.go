package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
	"github.com/sarrafnet/sarraf-backend/internal/referral"
)

type ConfirmRequest struct {
	ReceiverCode string
	// CallerID must match the transfer's receiver.
	CallerID uuid.UUID
}

// ConfirmByCode releases a pending transfer: the receiver gets the principal
// plus the recipient commission, and the system commission is split between
// the commission pool and the sender's referrer. A transfer confirms at most
// once; the status flip is guarded inside the transaction, and a retry on a
// settled transfer reports ErrAlreadyProcessed.
func (s *Service) ConfirmByCode(ctx context.Context, req ConfirmRequest) (*domain.Transfer, error) {
	log := logging.FromContext(ctx)

	t, err := s.transfers.GetByReceiverCode(ctx, req.ReceiverCode)
	if err != nil {
		return nil, fmt.Errorf("ConfirmByCode: %w", err)
	}
	if t.ReceiverID != req.CallerID {
		return nil, fmt.Errorf("ConfirmByCode: %w", domain.ErrForbidden)
	}
	if t.IsTerminal() {
		return nil, fmt.Errorf("ConfirmByCode: %w", domain.ErrAlreadyProcessed)
	}

	// Resolved before any row lock so the referrer's balance row can join
	// the ordered lock set below.
	alloc, err := s.allocator.Resolve(ctx, t.SenderID, t.Type.Operation(), t.SystemCommission)
	if err != nil {
		return nil, fmt.Errorf("ConfirmByCode: %w", err)
	}

	confirmed, err := s.executeConfirm(ctx, t, alloc)
	if err != nil {
		return nil, fmt.Errorf("ConfirmByCode: %w", err)
	}

	log.Info("transfer confirmed",
		"transfer_id", confirmed.ID,
		"transfer_type", confirmed.Type,
		"receiver_id", confirmed.ReceiverID,
		"currency", confirmed.Currency,
		"amount", confirmed.Amount,
		"pool_credit", alloc.NetSystemCommission,
		"referral_reward", alloc.RewardAmount,
	)

	s.publishTransferEvent(ctx, "transfer.confirmed", confirmed)
	return confirmed, nil
}

func (s *Service) executeConfirm(ctx context.Context, t *domain.Transfer, alloc *referral.Allocation) (*domain.Transfer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("executeConfirm: %w", err)
	}
	defer tx.Rollback()

	current, err := s.transfers.GetForUpdate(ctx, tx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("executeConfirm: %w", err)
	}
	if current.IsTerminal() {
		return nil, fmt.Errorf("executeConfirm: %w", domain.ErrAlreadyProcessed)
	}

	keys := []domain.BalanceKey{
		{UserID: current.ReceiverID, Currency: current.Currency},
	}
	if alloc.HasReferral {
		keys = append(keys, domain.BalanceKey{UserID: alloc.Referrer.ID, Currency: current.Currency})
	}
	if _, err := lockBalancesInOrder(ctx, tx, s.balances, keys...); err != nil {
		return nil, fmt.Errorf("executeConfirm: %w", err)
	}

	now := time.Now().UTC()
	if err := s.transfers.Complete(ctx, tx, current.ID, now); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return nil, fmt.Errorf("executeConfirm: %w", domain.ErrAlreadyProcessed)
		}
		return nil, fmt.Errorf("executeConfirm: %w", err)
	}

	payout := current.Amount.Add(current.RecipientCommission)
	if _, err := s.balances.Credit(ctx, tx, current.ReceiverID, current.Currency, payout); err != nil {
		return nil, fmt.Errorf("executeConfirm: %w", err)
	}

	err = s.allocator.Apply(ctx, tx, referral.ApplyInput{
		OperationRef: current.ID,
		Operation:    current.Type.Operation(),
		SourceType:   domain.PoolSourceTransfer,
		PayerID:      current.SenderID,
		Currency:     current.Currency,
		Description:  fmt.Sprintf("system commission on %s transfer %s", current.Type, current.ID),
		Now:          now,
	}, alloc)
	if err != nil {
		return nil, fmt.Errorf("executeConfirm: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("executeConfirm: commit: %w", err)
	}

	current.Status = domain.TransferStatusCompleted
	current.CompletedAt = &now
	return current, nil
}
