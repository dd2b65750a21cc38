package events

import "time"

type TransferEvent struct {
	Event        string    `json:"event"`
	TransferID   string    `json:"transfer_id"`
	TransferType string    `json:"transfer_type"`
	SenderID     string    `json:"sender_id"`
	ReceiverID   string    `json:"receiver_id"`
	Currency     string    `json:"currency"`
	Amount       string    `json:"amount"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type OfferEvent struct {
	Event         string    `json:"event"`
	OfferID       string    `json:"offer_id"`
	UserID        string    `json:"user_id"`
	Side          string    `json:"side"`
	BaseCurrency  string    `json:"base_currency"`
	QuoteCurrency string    `json:"quote_currency"`
	Amount        string    `json:"amount"`
	Remaining     string    `json:"remaining"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type PoolEvent struct {
	Event      string    `json:"event"`
	Currency   string    `json:"currency"`
	Amount     string    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}
