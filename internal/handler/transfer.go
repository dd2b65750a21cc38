package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sarrafnet/sarraf-backend/internal/auth"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
	"github.com/sarrafnet/sarraf-backend/internal/service/transfer"
)

type transferService interface {
	Create(ctx context.Context, req transfer.CreateRequest) (*domain.Transfer, error)
	ConfirmByCode(ctx context.Context, req transfer.ConfirmRequest) (*domain.Transfer, error)
	Cancel(ctx context.Context, transferID uuid.UUID, caller *domain.User) (*domain.Transfer, error)
	GetTransferForUser(ctx context.Context, transferID, userID uuid.UUID) (*domain.Transfer, error)
	ListUserTransfers(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transfer, error)
}

type callerReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type TransferHandler struct {
	transfers transferService
	users     callerReader
}

func NewTransferHandler(transfers transferService, users callerReader) *TransferHandler {
	return &TransferHandler{transfers: transfers, users: users}
}

type createTransferRequest struct {
	Type          string  `json:"type"`
	ReceiverID    *string `json:"receiver_id"`
	ReceiverEmail *string `json:"receiver_email"`
	Currency      string  `json:"currency"`
	Amount        string  `json:"amount"`
	OriginCity    *string `json:"origin_city"`
	DestCity      *string `json:"dest_city"`
	DestCountry   *string `json:"dest_country"`
	Note          *string `json:"note"`
}

func (r createTransferRequest) Validate() []FieldError {
	var errs []FieldError

	if !domain.TransferType(r.Type).IsValid() {
		errs = append(errs, FieldError{Field: "type", Message: "must be city, interoffice, or international"})
	}

	if r.ReceiverID == nil && r.ReceiverEmail == nil {
		errs = append(errs, FieldError{Field: "receiver_id", Message: "receiver_id or receiver_email required"})
	}
	if r.ReceiverID != nil {
		if _, err := uuid.Parse(*r.ReceiverID); err != nil {
			errs = append(errs, FieldError{Field: "receiver_id", Message: "must be a valid id"})
		}
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "unsupported currency"})
	}

	if amount, err := decimal.NewFromString(r.Amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a decimal number"})
	} else if amount.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if domain.TransferType(r.Type) == domain.TransferTypeInternational && r.DestCountry == nil {
		errs = append(errs, FieldError{Field: "dest_country", Message: "required for international transfers"})
	}

	return errs
}

type transferDTO struct {
	ID                  uuid.UUID       `json:"id"`
	Type                string          `json:"type"`
	SenderID            uuid.UUID       `json:"sender_id"`
	ReceiverID          uuid.UUID       `json:"receiver_id"`
	Currency            string          `json:"currency"`
	Amount              decimal.Decimal `json:"amount"`
	RecipientCommission decimal.Decimal `json:"recipient_commission"`
	SystemCommission    decimal.Decimal `json:"system_commission"`
	TotalHeld           decimal.Decimal `json:"total_held"`
	Status              string          `json:"status"`
	ReceiverCode        string          `json:"receiver_code,omitempty"`
	OriginCity          *string         `json:"origin_city,omitempty"`
	DestCity            *string         `json:"dest_city,omitempty"`
	DestCountry         *string         `json:"dest_country,omitempty"`
	Note                *string         `json:"note,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// toTransferDTO hides the pickup code from everyone except the sender of a
// still-pending transfer.
func toTransferDTO(t *domain.Transfer, viewerID uuid.UUID) transferDTO {
	dto := transferDTO{
		ID:                  t.ID,
		Type:                string(t.Type),
		SenderID:            t.SenderID,
		ReceiverID:          t.ReceiverID,
		Currency:            string(t.Currency),
		Amount:              t.Amount,
		RecipientCommission: t.RecipientCommission,
		SystemCommission:    t.SystemCommission,
		TotalHeld:           t.HeldAmount(),
		Status:              string(t.Status),
		OriginCity:          t.OriginCity,
		DestCity:            t.DestCity,
		DestCountry:         t.DestCountry,
		Note:                t.Note,
		CreatedAt:           t.CreatedAt,
		CompletedAt:         t.CompletedAt,
	}
	if t.SenderID == viewerID && t.Status == domain.TransferStatusPending {
		dto.ReceiverCode = t.ReceiverCode
	}
	return dto
}

func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	amount, _ := decimal.NewFromString(req.Amount)
	svcReq := transfer.CreateRequest{
		SenderID:      userID,
		Type:          domain.TransferType(req.Type),
		ReceiverEmail: req.ReceiverEmail,
		Currency:      domain.Currency(req.Currency),
		Amount:        amount,
		OriginCity:    req.OriginCity,
		DestCity:      req.DestCity,
		DestCountry:   req.DestCountry,
		Note:          req.Note,
	}
	if req.ReceiverID != nil {
		id := uuid.MustParse(*req.ReceiverID)
		svcReq.ReceiverID = &id
	}

	t, err := h.transfers.Create(r.Context(), svcReq)
	if err != nil {
		log.Warn("transfer creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%s", t.ID))
	RespondSuccess(w, http.StatusCreated, toTransferDTO(t, userID))
}

type confirmTransferRequest struct {
	ReceiverCode string `json:"receiver_code"`
}

func (h *TransferHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req confirmTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if len(req.ReceiverCode) != 6 {
		RespondValidationError(w, []FieldError{{Field: "receiver_code", Message: "must be 6 digits"}})
		return
	}

	t, err := h.transfers.ConfirmByCode(r.Context(), transfer.ConfirmRequest{
		ReceiverCode: req.ReceiverCode,
		CallerID:     userID,
	})
	if err != nil {
		log.Warn("transfer confirmation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTransferDTO(t, userID))
}

func (h *TransferHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	transferID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	caller, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	t, err := h.transfers.Cancel(r.Context(), transferID, caller)
	if err != nil {
		log.Warn("transfer cancellation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTransferDTO(t, userID))
}

func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	transferID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	t, err := h.transfers.GetTransferForUser(r.Context(), transferID, userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTransferDTO(t, userID))
}

func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	limit, offset := paginationParams(r)
	transfers, err := h.transfers.ListUserTransfers(r.Context(), userID, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]transferDTO, 0, len(transfers))
	for i := range transfers {
		dtos = append(dtos, toTransferDTO(&transfers[i], userID))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func paginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
