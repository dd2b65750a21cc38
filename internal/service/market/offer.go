package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/events"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
	"github.com/shopspring/decimal"
)

type CreateOfferRequest struct {
	UserID        uuid.UUID
	Side          domain.OfferSide
	BaseCurrency  domain.Currency
	QuoteCurrency domain.Currency
	Price         decimal.Decimal
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	ExpiresAt     *time.Time
}

// CreateOffer opens a standing offer. Sell offers escrow the full base
// amount from the creator immediately; buy offers reserve nothing and the
// creator pays quote currency fill by fill.
func (s *Service) CreateOffer(ctx context.Context, req CreateOfferRequest) (*domain.MarketOffer, error) {
	log := logging.FromContext(ctx)

	creator, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("CreateOffer: %w", err)
	}
	if err := validateOffer(req, creator); err != nil {
		return nil, fmt.Errorf("CreateOffer: %w", err)
	}

	o := &domain.MarketOffer{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Side:            req.Side,
		BaseCurrency:    req.BaseCurrency,
		QuoteCurrency:   req.QuoteCurrency,
		Price:           req.Price,
		MinAmount:       req.MinAmount,
		MaxAmount:       req.MaxAmount,
		RemainingAmount: req.MaxAmount,
		Status:          domain.OfferStatusOpen,
		ExpiresAt:       req.ExpiresAt,
		CreatedAt:       time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateOffer: %w", err)
	}
	defer tx.Rollback()

	if o.Side == domain.OfferSideSell {
		if err := s.balances.Ensure(ctx, tx, o.UserID, o.BaseCurrency); err != nil {
			return nil, fmt.Errorf("CreateOffer: %w", err)
		}
		if _, err := s.balances.Debit(ctx, tx, o.UserID, o.BaseCurrency, o.MaxAmount); err != nil {
			return nil, fmt.Errorf("CreateOffer: %w", err)
		}
	}
	if err := s.offers.Create(ctx, tx, o); err != nil {
		return nil, fmt.Errorf("CreateOffer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("CreateOffer: commit: %w", err)
	}

	log.Info("market offer created",
		"offer_id", o.ID,
		"user_id", o.UserID,
		"side", o.Side,
		"pair", fmt.Sprintf("%s/%s", o.BaseCurrency, o.QuoteCurrency),
		"price", o.Price,
		"max_amount", o.MaxAmount,
	)

	s.publishOfferEvent(ctx, "offer.created", o)
	return o, nil
}

func validateOffer(req CreateOfferRequest, creator *domain.User) error {
	if !req.Side.IsValid() {
		return fmt.Errorf("validateOffer: %w", domain.ErrInvalidRequest)
	}
	if !req.BaseCurrency.IsValid() || !req.QuoteCurrency.IsValid() {
		return fmt.Errorf("validateOffer: %w", domain.ErrInvalidCurrency)
	}
	if req.BaseCurrency == req.QuoteCurrency {
		return fmt.Errorf("validateOffer: %w", domain.ErrInvalidCurrency)
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("validateOffer: %w", domain.ErrInvalidAmount)
	}
	if req.MinAmount.LessThanOrEqual(decimal.Zero) || req.MaxAmount.LessThan(req.MinAmount) {
		return fmt.Errorf("validateOffer: %w", domain.ErrInvalidAmount)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("validateOffer: %w", domain.ErrInvalidRequest)
	}
	if creator.Status == domain.UserStatusFrozen {
		return fmt.Errorf("validateOffer: %w", domain.ErrUserFrozen)
	}
	if !creator.IsActive() {
		return fmt.Errorf("validateOffer: %w", domain.ErrUserInactive)
	}
	return nil
}

// CancelOffer closes an open offer and, for sell offers, refunds the
// unfilled base escrow to the creator. A commission already charged on the
// first fill is never refunded.
func (s *Service) CancelOffer(ctx context.Context, offerID uuid.UUID, caller *domain.User) (*domain.MarketOffer, error) {
	log := logging.FromContext(ctx)

	o, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, fmt.Errorf("CancelOffer: %w", err)
	}
	if o.UserID != caller.ID && caller.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("CancelOffer: %w", domain.ErrForbidden)
	}

	closed, err := s.closeOffer(ctx, offerID)
	if err != nil {
		return nil, fmt.Errorf("CancelOffer: %w", err)
	}

	log.Info("market offer cancelled",
		"offer_id", closed.ID,
		"user_id", closed.UserID,
		"side", closed.Side,
		"refunded", closed.RemainingAmount,
	)

	closed.RemainingAmount = decimal.Zero
	closed.Status = domain.OfferStatusCancelled

	s.publishOfferEvent(ctx, "offer.cancelled", closed)
	return closed, nil
}

// closeOffer is the shared open -> cancelled path used by CancelOffer and the
// expiry sweeper. It returns the offer as read under lock, with
// RemainingAmount still holding the refunded escrow.
func (s *Service) closeOffer(ctx context.Context, offerID uuid.UUID) (*domain.MarketOffer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("closeOffer: %w", err)
	}
	defer tx.Rollback()

	current, err := s.offers.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return nil, fmt.Errorf("closeOffer: %w", err)
	}
	if current.Status != domain.OfferStatusOpen {
		return nil, fmt.Errorf("closeOffer: %w", domain.ErrOfferNotOpen)
	}

	if err := s.offers.Close(ctx, tx, current.ID); err != nil {
		return nil, fmt.Errorf("closeOffer: %w", err)
	}

	if current.Side == domain.OfferSideSell && current.RemainingAmount.GreaterThan(decimal.Zero) {
		if err := s.balances.Ensure(ctx, tx, current.UserID, current.BaseCurrency); err != nil {
			return nil, fmt.Errorf("closeOffer: %w", err)
		}
		if _, err := s.balances.Credit(ctx, tx, current.UserID, current.BaseCurrency, current.RemainingAmount); err != nil {
			return nil, fmt.Errorf("closeOffer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("closeOffer: commit: %w", err)
	}
	return current, nil
}

func (s *Service) publishOfferEvent(ctx context.Context, name string, o *domain.MarketOffer) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, events.TopicMarket, o.ID.String(), events.OfferEvent{
		Event:         name,
		OfferID:       o.ID.String(),
		UserID:        o.UserID.String(),
		Side:          string(o.Side),
		BaseCurrency:  string(o.BaseCurrency),
		QuoteCurrency: string(o.QuoteCurrency),
		Amount:        o.MaxAmount.String(),
		Remaining:     o.RemainingAmount.String(),
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("market event dropped", "event", name, "offer_id", o.ID, "error", err)
	}
}
