package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sarrafnet/sarraf-backend/internal/auth"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
	"github.com/sarrafnet/sarraf-backend/internal/service/market"
)

type marketService interface {
	CreateOffer(ctx context.Context, req market.CreateOfferRequest) (*domain.MarketOffer, error)
	ExecuteFill(ctx context.Context, req market.FillRequest) (*domain.MarketTransaction, error)
	CancelOffer(ctx context.Context, offerID uuid.UUID, caller *domain.User) (*domain.MarketOffer, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*domain.MarketOffer, error)
	ListOpenOffers(ctx context.Context, base, quote domain.Currency, limit, offset int) ([]domain.MarketOffer, error)
	ListOfferFills(ctx context.Context, offerID uuid.UUID) ([]domain.MarketTransaction, error)
}

type MarketHandler struct {
	market marketService
	users  callerReader
}

func NewMarketHandler(market marketService, users callerReader) *MarketHandler {
	return &MarketHandler{market: market, users: users}
}

type createOfferRequest struct {
	Side          string     `json:"side"`
	BaseCurrency  string     `json:"base_currency"`
	QuoteCurrency string     `json:"quote_currency"`
	Price         string     `json:"price"`
	MinAmount     string     `json:"min_amount"`
	MaxAmount     string     `json:"max_amount"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

func (r createOfferRequest) Validate() []FieldError {
	var errs []FieldError

	if !domain.OfferSide(r.Side).IsValid() {
		errs = append(errs, FieldError{Field: "side", Message: "must be buy or sell"})
	}
	if !domain.Currency(r.BaseCurrency).IsValid() {
		errs = append(errs, FieldError{Field: "base_currency", Message: "unsupported currency"})
	}
	if !domain.Currency(r.QuoteCurrency).IsValid() {
		errs = append(errs, FieldError{Field: "quote_currency", Message: "unsupported currency"})
	}
	if r.BaseCurrency == r.QuoteCurrency && r.BaseCurrency != "" {
		errs = append(errs, FieldError{Field: "quote_currency", Message: "must differ from base_currency"})
	}

	for _, f := range []struct {
		name  string
		value string
	}{
		{"price", r.Price},
		{"min_amount", r.MinAmount},
		{"max_amount", r.MaxAmount},
	} {
		if d, err := decimal.NewFromString(f.value); err != nil {
			errs = append(errs, FieldError{Field: f.name, Message: "must be a decimal number"})
		} else if d.LessThanOrEqual(decimal.Zero) {
			errs = append(errs, FieldError{Field: f.name, Message: "must be greater than 0"})
		}
	}

	return errs
}

type offerDTO struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             uuid.UUID       `json:"user_id"`
	Side               string          `json:"side"`
	BaseCurrency       string          `json:"base_currency"`
	QuoteCurrency      string          `json:"quote_currency"`
	Price              decimal.Decimal `json:"price"`
	MinAmount          decimal.Decimal `json:"min_amount"`
	MaxAmount          decimal.Decimal `json:"max_amount"`
	RemainingAmount    decimal.Decimal `json:"remaining_amount"`
	Status             string          `json:"status"`
	CommissionDeducted bool            `json:"commission_deducted"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

func toOfferDTO(o *domain.MarketOffer) offerDTO {
	return offerDTO{
		ID:                 o.ID,
		UserID:             o.UserID,
		Side:               string(o.Side),
		BaseCurrency:       string(o.BaseCurrency),
		QuoteCurrency:      string(o.QuoteCurrency),
		Price:              o.Price,
		MinAmount:          o.MinAmount,
		MaxAmount:          o.MaxAmount,
		RemainingAmount:    o.RemainingAmount,
		Status:             string(o.Status),
		CommissionDeducted: o.CommissionDeducted,
		ExpiresAt:          o.ExpiresAt,
		CreatedAt:          o.CreatedAt,
	}
}

type fillDTO struct {
	ID         uuid.UUID       `json:"id"`
	OfferID    uuid.UUID       `json:"offer_id"`
	TakerID    uuid.UUID       `json:"taker_id"`
	Amount     decimal.Decimal `json:"amount"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Commission decimal.Decimal `json:"commission"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toFillDTO(mt *domain.MarketTransaction) fillDTO {
	return fillDTO{
		ID:         mt.ID,
		OfferID:    mt.OfferID,
		TakerID:    mt.TakerID,
		Amount:     mt.Amount,
		TotalCost:  mt.TotalCost,
		Commission: mt.Commission,
		CreatedAt:  mt.CreatedAt,
	}
}

func (h *MarketHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	price, _ := decimal.NewFromString(req.Price)
	minAmount, _ := decimal.NewFromString(req.MinAmount)
	maxAmount, _ := decimal.NewFromString(req.MaxAmount)

	o, err := h.market.CreateOffer(r.Context(), market.CreateOfferRequest{
		UserID:        userID,
		Side:          domain.OfferSide(req.Side),
		BaseCurrency:  domain.Currency(req.BaseCurrency),
		QuoteCurrency: domain.Currency(req.QuoteCurrency),
		Price:         price,
		MinAmount:     minAmount,
		MaxAmount:     maxAmount,
		ExpiresAt:     req.ExpiresAt,
	})
	if err != nil {
		log.Warn("offer creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/offers/%s", o.ID))
	RespondSuccess(w, http.StatusCreated, toOfferDTO(o))
}

type fillRequest struct {
	Amount string `json:"amount"`
}

func (h *MarketHandler) Fill(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	offerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req fillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must be a decimal greater than 0"}})
		return
	}

	mt, err := h.market.ExecuteFill(r.Context(), market.FillRequest{
		OfferID: offerID,
		TakerID: userID,
		Amount:  amount,
	})
	if err != nil {
		log.Warn("offer fill failed", "offer_id", offerID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toFillDTO(mt))
}

func (h *MarketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	offerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	caller, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	o, err := h.market.CancelOffer(r.Context(), offerID, caller)
	if err != nil {
		log.Warn("offer cancellation failed", "offer_id", offerID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toOfferDTO(o))
}

func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	offerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	o, err := h.market.GetOffer(r.Context(), offerID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toOfferDTO(o))
}

func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	base := domain.Currency(r.URL.Query().Get("base"))
	quote := domain.Currency(r.URL.Query().Get("quote"))
	if !base.IsValid() || !quote.IsValid() {
		RespondAppError(w, ErrInvalidCurrency, nil)
		return
	}

	limit, offset := paginationParams(r)
	offers, err := h.market.ListOpenOffers(r.Context(), base, quote, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]offerDTO, 0, len(offers))
	for i := range offers {
		dtos = append(dtos, toOfferDTO(&offers[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *MarketHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	offerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	fills, err := h.market.ListOfferFills(r.Context(), offerID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]fillDTO, 0, len(fills))
	for i := range fills {
		dtos = append(dtos, toFillDTO(&fills[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}
