package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is one (user, currency) wallet row. Amount never goes below zero;
// the repository enforces that with a conditional update, not an application
// level check.
type Balance struct {
	UserID    uuid.UUID
	Currency  Currency
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// BalanceKey identifies a balance row for ordered lock acquisition.
type BalanceKey struct {
	UserID   uuid.UUID
	Currency Currency
}

func (k BalanceKey) Less(other BalanceKey) bool {
	if k.UserID.String() != other.UserID.String() {
		return k.UserID.String() < other.UserID.String()
	}
	return k.Currency < other.Currency
}
