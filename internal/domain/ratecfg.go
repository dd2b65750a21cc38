package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationType names a fee-bearing operation for rate lookup and referral
// reward sizing.
type OperationType string

const (
	OpCityTransfer          OperationType = "city_transfer"
	OpInterOfficeTransfer   OperationType = "interoffice_transfer"
	OpInternationalTransfer OperationType = "international_transfer"
	OpMarketOffer           OperationType = "market_offer"
)

func (t TransferType) Operation() OperationType {
	switch t {
	case TransferTypeCity:
		return OpCityTransfer
	case TransferTypeInterOffice:
		return OpInterOfficeTransfer
	default:
		return OpInternationalTransfer
	}
}

type RateKind string

const (
	RateKindPercentage RateKind = "percentage"
	RateKindPerMille   RateKind = "per_mille"
	RateKindFixed      RateKind = "fixed"
)

// CommissionRate is an admin-maintained flat rate for one operation type and
// currency. Read-only to the engine.
type CommissionRate struct {
	ID        uuid.UUID
	Operation OperationType
	Currency  Currency
	Kind      RateKind
	Value     decimal.Decimal
	IsActive  bool
}

// OfficeCommissionTier is a receiving-office rate matched by amount range and,
// optionally, by origin/destination city pair. Tier match beats the office's
// flat rate, which beats the global default.
type OfficeCommissionTier struct {
	ID         uuid.UUID
	OfficeID   uuid.UUID
	Currency   Currency
	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	OriginCity *string
	DestCity   *string
	Kind       RateKind
	Value      decimal.Decimal
	IsActive   bool
}

// Matches reports whether amount and the optional city pair fall inside this
// tier. The range is half-open: min <= amount < max.
func (t *OfficeCommissionTier) Matches(amount decimal.Decimal, originCity, destCity *string) bool {
	if !t.IsActive {
		return false
	}
	if amount.LessThan(t.MinAmount) || amount.GreaterThanOrEqual(t.MaxAmount) {
		return false
	}
	if t.OriginCity != nil && (originCity == nil || *originCity != *t.OriginCity) {
		return false
	}
	if t.DestCity != nil && (destCity == nil || *destCity != *t.DestCity) {
		return false
	}
	return true
}
