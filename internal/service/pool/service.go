// Package pool exposes the platform's commission revenue ledger. The backing
// table is append-only; a withdrawal is a compensating debit row, admitted
// only when the summed balance covers it.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/events"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
	"github.com/shopspring/decimal"
)

type poolRepo interface {
	Add(ctx context.Context, tx *sql.Tx, pt *domain.CommissionPoolTransaction) error
	GetBalance(ctx context.Context, currency domain.Currency) (decimal.Decimal, error)
	GetBalanceTx(ctx context.Context, tx *sql.Tx, currency domain.Currency) (decimal.Decimal, error)
	LockCurrency(ctx context.Context, tx *sql.Tx, currency domain.Currency) error
	ListByCurrency(ctx context.Context, currency domain.Currency, limit, offset int) ([]domain.CommissionPoolTransaction, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Service struct {
	pool   poolRepo
	events eventPublisher
	db     *sql.DB
}

func NewService(pool poolRepo, events eventPublisher, db *sql.DB) *Service {
	return &Service{pool: pool, events: events, db: db}
}

func (s *Service) GetBalance(ctx context.Context, currency domain.Currency) (decimal.Decimal, error) {
	if !currency.IsValid() {
		return decimal.Zero, fmt.Errorf("GetBalance: %w", domain.ErrInvalidCurrency)
	}
	balance, err := s.pool.GetBalance(ctx, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("GetBalance: %w", err)
	}
	return balance, nil
}

func (s *Service) ListTransactions(ctx context.Context, currency domain.Currency, limit, offset int) ([]domain.CommissionPoolTransaction, error) {
	if !currency.IsValid() {
		return nil, fmt.Errorf("ListTransactions: %w", domain.ErrInvalidCurrency)
	}
	txs, err := s.pool.ListByCurrency(ctx, currency, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	return txs, nil
}

type WithdrawRequest struct {
	Currency    domain.Currency
	Amount      decimal.Decimal
	Description string
}

// Withdraw records a pool debit. The per-currency advisory lock serializes
// concurrent withdrawals so the balance check and the insert are atomic even
// though no row exists to lock.
func (s *Service) Withdraw(ctx context.Context, caller *domain.User, req WithdrawRequest) (*domain.CommissionPoolTransaction, error) {
	log := logging.FromContext(ctx)

	if caller.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("Withdraw: %w", domain.ErrForbidden)
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("Withdraw: %w", domain.ErrInvalidCurrency)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("Withdraw: %w", domain.ErrInvalidAmount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	defer tx.Rollback()

	if err := s.pool.LockCurrency(ctx, tx, req.Currency); err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	balance, err := s.pool.GetBalanceTx(ctx, tx, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	if balance.LessThan(req.Amount) {
		return nil, fmt.Errorf("Withdraw: %w", domain.ErrInsufficientPoolBalance)
	}

	callerID := caller.ID
	pt := &domain.CommissionPoolTransaction{
		ID:           uuid.New(),
		SourceType:   domain.PoolSourceWithdrawal,
		SourceID:     &callerID,
		CurrencyCode: req.Currency,
		Amount:       req.Amount,
		Type:         domain.PoolDebit,
		Description:  req.Description,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.pool.Add(ctx, tx, pt); err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Withdraw: commit: %w", err)
	}

	log.Info("pool withdrawal",
		"currency", req.Currency,
		"amount", req.Amount,
		"admin_id", caller.ID,
	)

	if s.events != nil {
		err := s.events.Publish(ctx, events.TopicPool, string(req.Currency), events.PoolEvent{
			Event:      "pool.withdrawal",
			Currency:   string(req.Currency),
			Amount:     req.Amount.String(),
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			log.Warn("pool event dropped", "currency", req.Currency, "error", err)
		}
	}

	return pt, nil
}
