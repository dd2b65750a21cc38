// Package market implements the peer currency exchange: standing buy/sell
// offers, partial fills at the offer's fixed price, and the one-shot
// platform commission charged on the first fill.
package market

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/referral"
	"github.com/shopspring/decimal"
)

type userRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type balanceRepo interface {
	Ensure(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency) error
	GetForUpdate(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency) (*domain.Balance, error)
	Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error)
	Debit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error)
}

type offerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, o *domain.MarketOffer) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MarketOffer, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.MarketOffer, error)
	ApplyFill(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	MarkCommissionDeducted(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error)
	Close(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	ListOpen(ctx context.Context, base, quote domain.Currency, limit, offset int) ([]domain.MarketOffer, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.MarketOffer, error)
}

type marketTxRepo interface {
	Create(ctx context.Context, tx *sql.Tx, mt *domain.MarketTransaction) error
	GetByOfferID(ctx context.Context, offerID uuid.UUID) ([]domain.MarketTransaction, error)
}

type feeCalculator interface {
	SystemFee(ctx context.Context, op domain.OperationType, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error)
}

type feeAllocator interface {
	Resolve(ctx context.Context, payerID uuid.UUID, op domain.OperationType, systemCommission decimal.Decimal) (*referral.Allocation, error)
	Apply(ctx context.Context, tx *sql.Tx, in referral.ApplyInput, alloc *referral.Allocation) error
}

type eventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Service struct {
	users     userRepo
	balances  balanceRepo
	offers    offerRepo
	fills     marketTxRepo
	fees      feeCalculator
	allocator feeAllocator
	events    eventPublisher
	db        *sql.DB
}

func NewService(
	users userRepo,
	balances balanceRepo,
	offers offerRepo,
	fills marketTxRepo,
	fees feeCalculator,
	allocator feeAllocator,
	events eventPublisher,
	db *sql.DB,
) *Service {
	return &Service{
		users:     users,
		balances:  balances,
		offers:    offers,
		fills:     fills,
		fees:      fees,
		allocator: allocator,
		events:    events,
		db:        db,
	}
}

func (s *Service) GetOffer(ctx context.Context, id uuid.UUID) (*domain.MarketOffer, error) {
	o, err := s.offers.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetOffer: %w", err)
	}
	return o, nil
}

func (s *Service) ListOpenOffers(ctx context.Context, base, quote domain.Currency, limit, offset int) ([]domain.MarketOffer, error) {
	offers, err := s.offers.ListOpen(ctx, base, quote, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListOpenOffers: %w", err)
	}
	return offers, nil
}

func (s *Service) ListOfferFills(ctx context.Context, offerID uuid.UUID) ([]domain.MarketTransaction, error) {
	fills, err := s.fills.GetByOfferID(ctx, offerID)
	if err != nil {
		return nil, fmt.Errorf("ListOfferFills: %w", err)
	}
	return fills, nil
}

// lockBalancesInOrder locks balance rows in ascending (user, currency) order.
// Every multi-account write in this package goes through it.
func lockBalancesInOrder(ctx context.Context, tx *sql.Tx, balances balanceRepo, keys ...domain.BalanceKey) error {
	sorted := make([]domain.BalanceKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Less(sorted[j])
	})

	seen := make(map[domain.BalanceKey]struct{}, len(sorted))
	for _, key := range sorted {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if err := balances.Ensure(ctx, tx, key.UserID, key.Currency); err != nil {
			return fmt.Errorf("lockBalancesInOrder: %w", err)
		}
		if _, err := balances.GetForUpdate(ctx, tx, key.UserID, key.Currency); err != nil {
			return fmt.Errorf("lockBalancesInOrder: %w", err)
		}
	}
	return nil
}
