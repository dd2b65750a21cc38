package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransferType string

const (
	TransferTypeCity          TransferType = "city"
	TransferTypeInterOffice   TransferType = "interoffice"
	TransferTypeInternational TransferType = "international"
)

func (t TransferType) IsValid() bool {
	switch t {
	case TransferTypeCity, TransferTypeInterOffice, TransferTypeInternational:
		return true
	default:
		return false
	}
}

type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusCancelled TransferStatus = "cancelled"
)

// Transfer covers city, inter-office and international remittances with one
// lifecycle: while pending, amount + recipient commission + system commission
// is already debited from the sender and credited nowhere.
type Transfer struct {
	ID                  uuid.UUID
	Type                TransferType
	SenderID            uuid.UUID
	ReceiverID          uuid.UUID
	Currency            Currency
	Amount              decimal.Decimal
	RecipientCommission decimal.Decimal
	SystemCommission    decimal.Decimal
	Status              TransferStatus
	ReceiverCode        string
	OriginCity          *string
	DestCity            *string
	DestCountry         *string
	Note                *string
	CreatedAt           time.Time
	CompletedAt         *time.Time
}

// HeldAmount is the total escrowed from the sender at creation.
func (t *Transfer) HeldAmount() decimal.Decimal {
	return t.Amount.Add(t.RecipientCommission).Add(t.SystemCommission)
}

func (t *Transfer) IsTerminal() bool {
	return t.Status != TransferStatusPending
}
