package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
	"github.com/sarrafnet/sarraf-backend/internal/referral"
	"github.com/shopspring/decimal"
)

type FillRequest struct {
	OfferID uuid.UUID
	TakerID uuid.UUID
	// Amount is in the offer's base currency.
	Amount decimal.Decimal
}

// ExecuteFill trades Amount of base currency against the offer at its fixed
// price. The first fill additionally charges the creator the one-shot
// platform commission, priced on the offer's full notional and collected in
// base currency; later fills and partial exhaustion never re-charge it.
func (s *Service) ExecuteFill(ctx context.Context, req FillRequest) (*domain.MarketTransaction, error) {
	log := logging.FromContext(ctx)

	taker, err := s.users.GetByID(ctx, req.TakerID)
	if err != nil {
		return nil, fmt.Errorf("ExecuteFill: %w", err)
	}
	if taker.Status == domain.UserStatusFrozen {
		return nil, fmt.Errorf("ExecuteFill: %w", domain.ErrUserFrozen)
	}
	if !taker.IsActive() {
		return nil, fmt.Errorf("ExecuteFill: %w", domain.ErrUserInactive)
	}

	o, err := s.offers.GetByID(ctx, req.OfferID)
	if err != nil {
		return nil, fmt.Errorf("ExecuteFill: %w", err)
	}
	if o.UserID == req.TakerID {
		return nil, fmt.Errorf("ExecuteFill: %w", domain.ErrSelfTrade)
	}
	if o.Status != domain.OfferStatusOpen {
		return nil, fmt.Errorf("ExecuteFill: %w", domain.ErrOfferNotOpen)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("ExecuteFill: %w", domain.ErrInvalidAmount)
	}

	// Commission parameters are fixed by the offer as created, so both the
	// fee and the referral split can be resolved before any row lock.
	commission := decimal.Zero
	var alloc *referral.Allocation
	if !o.CommissionDeducted {
		commission, err = s.fees.SystemFee(ctx, domain.OpMarketOffer, o.BaseCurrency, o.Notional())
		if err != nil {
			return nil, fmt.Errorf("ExecuteFill: %w", err)
		}
		alloc, err = s.allocator.Resolve(ctx, o.UserID, domain.OpMarketOffer, commission)
		if err != nil {
			return nil, fmt.Errorf("ExecuteFill: %w", err)
		}
	}

	mt, err := s.executeFill(ctx, o, req, commission, alloc)
	if err != nil {
		return nil, fmt.Errorf("ExecuteFill: %w", err)
	}

	log.Info("offer filled",
		"offer_id", o.ID,
		"taker_id", req.TakerID,
		"amount", mt.Amount,
		"total_cost", mt.TotalCost,
		"commission", mt.Commission,
	)

	s.publishOfferEvent(ctx, "offer.filled", o)
	return mt, nil
}

func (s *Service) executeFill(ctx context.Context, o *domain.MarketOffer, req FillRequest, commission decimal.Decimal, alloc *referral.Allocation) (*domain.MarketTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("executeFill: %w", err)
	}
	defer tx.Rollback()

	current, err := s.offers.GetForUpdate(ctx, tx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("executeFill: %w", err)
	}
	if current.Status != domain.OfferStatusOpen {
		return nil, fmt.Errorf("executeFill: %w", domain.ErrOfferNotOpen)
	}
	if current.ExpiresAt != nil && !current.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("executeFill: %w", domain.ErrOfferNotOpen)
	}
	if err := checkFillBounds(current, req.Amount); err != nil {
		return nil, fmt.Errorf("executeFill: %w", err)
	}

	keys := []domain.BalanceKey{
		{UserID: current.UserID, Currency: current.BaseCurrency},
		{UserID: current.UserID, Currency: current.QuoteCurrency},
		{UserID: req.TakerID, Currency: current.BaseCurrency},
		{UserID: req.TakerID, Currency: current.QuoteCurrency},
	}
	if alloc != nil && alloc.HasReferral {
		keys = append(keys, domain.BalanceKey{UserID: alloc.Referrer.ID, Currency: current.BaseCurrency})
	}
	if err := lockBalancesInOrder(ctx, tx, s.balances, keys...); err != nil {
		return nil, fmt.Errorf("executeFill: %w", err)
	}

	remaining, err := s.offers.ApplyFill(ctx, tx, current.ID, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("executeFill: %w", err)
	}

	totalCost := req.Amount.Mul(current.Price)
	if err := s.moveFillFunds(ctx, tx, current, req, totalCost); err != nil {
		return nil, err
	}

	chargedCommission := decimal.Zero
	if alloc != nil {
		first, err := s.offers.MarkCommissionDeducted(ctx, tx, current.ID)
		if err != nil {
			return nil, fmt.Errorf("executeFill: %w", err)
		}
		if first {
			if _, err := s.balances.Debit(ctx, tx, current.UserID, current.BaseCurrency, commission); err != nil {
				return nil, fmt.Errorf("executeFill: commission: %w", err)
			}
			err = s.allocator.Apply(ctx, tx, referral.ApplyInput{
				OperationRef: current.ID,
				Operation:    domain.OpMarketOffer,
				SourceType:   domain.PoolSourceMarketOffer,
				PayerID:      current.UserID,
				Currency:     current.BaseCurrency,
				Description:  fmt.Sprintf("platform commission on market offer %s", current.ID),
				Now:          time.Now().UTC(),
			}, alloc)
			if err != nil {
				return nil, fmt.Errorf("executeFill: %w", err)
			}
			chargedCommission = commission
		}
	}

	mt := &domain.MarketTransaction{
		ID:         uuid.New(),
		OfferID:    current.ID,
		TakerID:    req.TakerID,
		Amount:     req.Amount,
		TotalCost:  totalCost,
		Commission: chargedCommission,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.fills.Create(ctx, tx, mt); err != nil {
		return nil, fmt.Errorf("executeFill: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("executeFill: commit: %w", err)
	}

	o.RemainingAmount = remaining
	if remaining.LessThanOrEqual(decimal.Zero) {
		o.Status = domain.OfferStatusCancelled
	}
	return mt, nil
}

// checkFillBounds enforces min_amount <= amount <= remaining. When the
// remainder has shrunk below min_amount the only legal fill is the exact
// remainder, so the offer can always be taken to zero.
func checkFillBounds(o *domain.MarketOffer, amount decimal.Decimal) error {
	if amount.GreaterThan(o.RemainingAmount) {
		return fmt.Errorf("checkFillBounds: %w", domain.ErrAmountOutOfRange)
	}
	if amount.LessThan(o.MinAmount) && !amount.Equal(o.RemainingAmount) {
		return fmt.Errorf("checkFillBounds: %w", domain.ErrAmountOutOfRange)
	}
	return nil
}

// moveFillFunds settles the trade legs. For a sell offer the base leg was
// escrowed at creation, so only the taker-side credit remains; a buy offer
// pays quote currency out of the creator's live balance.
func (s *Service) moveFillFunds(ctx context.Context, tx *sql.Tx, o *domain.MarketOffer, req FillRequest, totalCost decimal.Decimal) error {
	switch o.Side {
	case domain.OfferSideSell:
		// Taker buys base: pays quote to the creator, receives escrowed base.
		if _, err := s.balances.Debit(ctx, tx, req.TakerID, o.QuoteCurrency, totalCost); err != nil {
			return fmt.Errorf("moveFillFunds: taker quote: %w", err)
		}
		if _, err := s.balances.Credit(ctx, tx, o.UserID, o.QuoteCurrency, totalCost); err != nil {
			return fmt.Errorf("moveFillFunds: creator quote: %w", err)
		}
		if _, err := s.balances.Credit(ctx, tx, req.TakerID, o.BaseCurrency, req.Amount); err != nil {
			return fmt.Errorf("moveFillFunds: taker base: %w", err)
		}
	default:
		// Taker sells base into a buy offer: hands over base, receives quote
		// from the creator's balance.
		if _, err := s.balances.Debit(ctx, tx, req.TakerID, o.BaseCurrency, req.Amount); err != nil {
			return fmt.Errorf("moveFillFunds: taker base: %w", err)
		}
		if _, err := s.balances.Debit(ctx, tx, o.UserID, o.QuoteCurrency, totalCost); err != nil {
			return fmt.Errorf("moveFillFunds: creator quote: %w", err)
		}
		if _, err := s.balances.Credit(ctx, tx, o.UserID, o.BaseCurrency, req.Amount); err != nil {
			return fmt.Errorf("moveFillFunds: creator base: %w", err)
		}
		if _, err := s.balances.Credit(ctx, tx, req.TakerID, o.QuoteCurrency, totalCost); err != nil {
			return fmt.Errorf("moveFillFunds: taker quote: %w", err)
		}
	}
	return nil
}
