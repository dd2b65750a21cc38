package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/events"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
	"github.com/shopspring/decimal"
)

type CreateRequest struct {
	SenderID      uuid.UUID
	Type          domain.TransferType
	ReceiverID    *uuid.UUID
	ReceiverEmail *string
	Currency      domain.Currency
	Amount        decimal.Decimal
	OriginCity    *string
	DestCity      *string
	DestCountry   *string
	Note          *string
}

const createCodeRetries = 3

// Create holds amount + recipient commission + system commission from the
// sender and opens a pending transfer with a fresh 6-digit receiver code.
// Nothing is credited anywhere until the transfer is confirmed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Transfer, error) {
	log := logging.FromContext(ctx)

	sender, receiver, err := s.resolveParties(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	if err := validateCreate(req, sender, receiver); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	recipientFee, systemFee, err := s.quoteFees(ctx, req, receiver)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	t := &domain.Transfer{
		ID:                  uuid.New(),
		Type:                req.Type,
		SenderID:            sender.ID,
		ReceiverID:          receiver.ID,
		Currency:            req.Currency,
		Amount:              req.Amount,
		RecipientCommission: recipientFee,
		SystemCommission:    systemFee,
		Status:              domain.TransferStatusPending,
		OriginCity:          req.OriginCity,
		DestCity:            req.DestCity,
		DestCountry:         req.DestCountry,
		Note:                req.Note,
		CreatedAt:           time.Now().UTC(),
	}

	// The unique index on pending receiver codes can reject a draw; retry
	// with a new code rather than surfacing a 500 for bad luck.
	var lastErr error
	for attempt := 0; attempt < createCodeRetries; attempt++ {
		code, err := newReceiverCode()
		if err != nil {
			return nil, fmt.Errorf("Create: %w", err)
		}
		t.ReceiverCode = code

		lastErr = s.executeCreate(ctx, t)
		if lastErr == nil {
			break
		}
		if !errors.Is(lastErr, domain.ErrAlreadyProcessed) {
			return nil, fmt.Errorf("Create: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("Create: %w", lastErr)
	}

	log.Info("transfer created",
		"transfer_id", t.ID,
		"transfer_type", t.Type,
		"sender_id", t.SenderID,
		"receiver_id", t.ReceiverID,
		"currency", t.Currency,
		"amount", t.Amount,
		"recipient_commission", t.RecipientCommission,
		"system_commission", t.SystemCommission,
	)

	s.publishTransferEvent(ctx, "transfer.created", t)
	return t, nil
}

func (s *Service) resolveParties(ctx context.Context, req CreateRequest) (*domain.User, *domain.User, error) {
	sender, err := s.users.GetByID(ctx, req.SenderID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolveParties: %w", err)
	}

	var receiver *domain.User
	switch {
	case req.ReceiverID != nil:
		receiver, err = s.users.GetByID(ctx, *req.ReceiverID)
	case req.ReceiverEmail != nil:
		receiver, err = s.users.GetByEmail(ctx, *req.ReceiverEmail)
	default:
		return nil, nil, fmt.Errorf("resolveParties: %w", domain.ErrInvalidRecipient)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("resolveParties: %w", domain.ErrInvalidRecipient)
		}
		return nil, nil, fmt.Errorf("resolveParties: %w", err)
	}
	return sender, receiver, nil
}

func validateCreate(req CreateRequest, sender, receiver *domain.User) error {
	if !req.Type.IsValid() {
		return fmt.Errorf("validateCreate: %w", domain.ErrInvalidRequest)
	}
	if !req.Currency.IsValid() {
		return fmt.Errorf("validateCreate: %w", domain.ErrInvalidCurrency)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("validateCreate: %w", domain.ErrInvalidAmount)
	}
	if sender.ID == receiver.ID {
		return fmt.Errorf("validateCreate: %w", domain.ErrSelfTransfer)
	}
	if err := verifyUserActive(sender, "sender"); err != nil {
		return fmt.Errorf("validateCreate: %w", err)
	}
	if err := verifyUserActive(receiver, "receiver"); err != nil {
		return fmt.Errorf("validateCreate: %w", err)
	}
	// Inter-office and international transfers pay out through an exchange
	// office, never directly to a customer wallet.
	if req.Type != domain.TransferTypeCity && receiver.Role != domain.RoleOffice {
		return fmt.Errorf("validateCreate: %w", domain.ErrInvalidRecipient)
	}
	return nil
}

// quoteFees prices both commissions up front so the full hold is fixed at
// creation. The recipient commission only applies when an office pays out.
func (s *Service) quoteFees(ctx context.Context, req CreateRequest, receiver *domain.User) (recipientFee, systemFee decimal.Decimal, err error) {
	op := req.Type.Operation()

	systemFee, err = s.fees.SystemFee(ctx, op, req.Currency, req.Amount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("quoteFees: %w", err)
	}

	recipientFee = decimal.Zero
	if receiver.Role == domain.RoleOffice {
		recipientFee, err = s.fees.RecipientFee(ctx, receiver.ID, req.Currency, req.Amount, req.OriginCity, req.DestCity)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("quoteFees: %w", err)
		}
	}
	return recipientFee, systemFee, nil
}

func (s *Service) executeCreate(ctx context.Context, t *domain.Transfer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("executeCreate: %w", err)
	}
	defer tx.Rollback()

	if err := s.balances.Ensure(ctx, tx, t.SenderID, t.Currency); err != nil {
		return fmt.Errorf("executeCreate: %w", err)
	}
	if _, err := s.balances.Debit(ctx, tx, t.SenderID, t.Currency, t.HeldAmount()); err != nil {
		return fmt.Errorf("executeCreate: %w", err)
	}
	if err := s.transfers.Create(ctx, tx, t); err != nil {
		return fmt.Errorf("executeCreate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("executeCreate: commit: %w", err)
	}
	return nil
}

// publishTransferEvent is best effort; settlement never waits on the broker.
func (s *Service) publishTransferEvent(ctx context.Context, name string, t *domain.Transfer) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, events.TopicTransfers, t.ID.String(), events.TransferEvent{
		Event:        name,
		TransferID:   t.ID.String(),
		TransferType: string(t.Type),
		SenderID:     t.SenderID.String(),
		ReceiverID:   t.ReceiverID.String(),
		Currency:     string(t.Currency),
		Amount:       t.Amount.String(),
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("transfer event dropped", "event", name, "transfer_id", t.ID, "error", err)
	}
}
