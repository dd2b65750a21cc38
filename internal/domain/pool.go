package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PoolTransactionType string

const (
	PoolCredit PoolTransactionType = "credit"
	PoolDebit  PoolTransactionType = "debit"
)

type PoolSourceType string

const (
	PoolSourceTransfer    PoolSourceType = "transfer"
	PoolSourceMarketOffer PoolSourceType = "market_offer"
	PoolSourceWithdrawal  PoolSourceType = "withdrawal"
	PoolSourceAdjustment  PoolSourceType = "adjustment"
)

// CommissionPoolTransaction is one row of the platform's own revenue ledger.
// Append-only; corrections are compensating entries, never updates.
type CommissionPoolTransaction struct {
	ID                   uuid.UUID
	SourceType           PoolSourceType
	SourceID             *uuid.UUID
	CurrencyCode         Currency
	Amount               decimal.Decimal
	Type                 PoolTransactionType
	RelatedTransactionID *uuid.UUID
	Description          string
	CreatedAt            time.Time
}
