package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OfferSide string

const (
	OfferSideBuy  OfferSide = "buy"
	OfferSideSell OfferSide = "sell"
)

func (s OfferSide) IsValid() bool {
	return s == OfferSideBuy || s == OfferSideSell
}

type OfferStatus string

const (
	OfferStatusOpen      OfferStatus = "open"
	OfferStatusCancelled OfferStatus = "cancelled"
)

// MarketOffer is a standing buy or sell order on the peer currency market.
// Sell offers escrow MaxAmount of the base currency at creation; the
// reservation shrinks with each fill and the remainder is refunded on
// cancellation. CommissionDeducted is a one-shot guard: the platform fee is
// charged exactly once, at the first fill, on the original notional.
type MarketOffer struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	Side               OfferSide
	BaseCurrency       Currency
	QuoteCurrency      Currency
	Price              decimal.Decimal
	MinAmount          decimal.Decimal
	MaxAmount          decimal.Decimal
	RemainingAmount    decimal.Decimal
	Status             OfferStatus
	CommissionDeducted bool
	ExpiresAt          *time.Time
	CreatedAt          time.Time
}

// Notional is the full quote-currency value of the offer as created.
func (o *MarketOffer) Notional() decimal.Decimal {
	return o.MaxAmount.Mul(o.Price)
}

// MarketTransaction records one fill against an offer. Immutable.
type MarketTransaction struct {
	ID         uuid.UUID
	OfferID    uuid.UUID
	TakerID    uuid.UUID
	Amount     decimal.Decimal
	TotalCost  decimal.Decimal
	Commission decimal.Decimal
	CreatedAt  time.Time
}
