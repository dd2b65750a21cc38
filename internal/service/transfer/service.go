// Package transfer implements the hold/release lifecycle shared by city,
// inter-office and international remittances: create escrows the principal
// plus both commissions from the sender, confirm releases to the recipient
// and settles the platform fee, cancel refunds the full hold.
package transfer

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/referral"
	"github.com/shopspring/decimal"
)

type userRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type balanceRepo interface {
	Ensure(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency) error
	GetForUpdate(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency) (*domain.Balance, error)
	Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error)
	Debit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error)
}

type transferRepo interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	GetByReceiverCode(ctx context.Context, code string) (*domain.Transfer, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transfer, error)
	Complete(ctx context.Context, tx *sql.Tx, id uuid.UUID, completedAt time.Time) error
	Cancel(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transfer, error)
}

type feeCalculator interface {
	SystemFee(ctx context.Context, op domain.OperationType, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error)
	RecipientFee(ctx context.Context, officeID uuid.UUID, currency domain.Currency, amount decimal.Decimal, originCity, destCity *string) (decimal.Decimal, error)
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
	transfers transferRepo
	fees      feeCalculator
	allocator feeAllocator
	events    eventPublisher
	db        *sql.DB
}

func NewService(
	users userRepo,
	balances balanceRepo,
	transfers transferRepo,
	fees feeCalculator,
	allocator feeAllocator,
	events eventPublisher,
	db *sql.DB,
) *Service {
	return &Service{
		users:     users,
		balances:  balances,
		transfers: transfers,
		fees:      fees,
		allocator: allocator,
		events:    events,
		db:        db,
	}
}

// GetTransferForUser returns a transfer visible to its sender or receiver.
func (s *Service) GetTransferForUser(ctx context.Context, transferID, userID uuid.UUID) (*domain.Transfer, error) {
	t, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("GetTransferForUser: %w", err)
	}
	if t.SenderID != userID && t.ReceiverID != userID {
		return nil, fmt.Errorf("GetTransferForUser: %w", domain.ErrNotFound)
	}
	return t, nil
}

func (s *Service) ListUserTransfers(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transfer, error) {
	transfers, err := s.transfers.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListUserTransfers: %w", err)
	}
	return transfers, nil
}

// lockBalancesInOrder ensures the rows exist and locks them in ascending
// (user, currency) order so concurrent multi-account operations cannot
// deadlock.
func lockBalancesInOrder(ctx context.Context, tx *sql.Tx, balances balanceRepo, keys ...domain.BalanceKey) (map[domain.BalanceKey]*domain.Balance, error) {
	sorted := make([]domain.BalanceKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Less(sorted[j])
	})

	result := make(map[domain.BalanceKey]*domain.Balance, len(keys))
	for _, key := range sorted {
		if _, seen := result[key]; seen {
			continue
		}
		if err := balances.Ensure(ctx, tx, key.UserID, key.Currency); err != nil {
			return nil, fmt.Errorf("lockBalancesInOrder: %w", err)
		}
		b, err := balances.GetForUpdate(ctx, tx, key.UserID, key.Currency)
		if err != nil {
			return nil, fmt.Errorf("lockBalancesInOrder: %w", err)
		}
		result[key] = b
	}
	return result, nil
}

const receiverCodeDigits = 6

// newReceiverCode draws a random 6-digit pickup code. Uniqueness among
// pending transfers is enforced by the database; callers retry on collision.
func newReceiverCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("newReceiverCode: %w", err)
	}
	return fmt.Sprintf("%0*d", receiverCodeDigits, n.Int64()), nil
}

func verifyUserActive(u *domain.User, role string) error {
	if u.Status == domain.UserStatusFrozen {
		return fmt.Errorf("%s: %w", role, domain.ErrUserFrozen)
	}
	if !u.IsActive() {
		return fmt.Errorf("%s: %w", role, domain.ErrUserInactive)
	}
	return nil
}
