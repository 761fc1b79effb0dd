package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/payrelay/payrelay/infra/response"
	"github.com/payrelay/payrelay/reconcile"
)

// LinkStore is the slice of persistence the link handler needs.
type LinkStore interface {
	CreateLink(ctx context.Context, l *reconcile.PaymentLink) error
	GetLink(ctx context.Context, id string) (*reconcile.PaymentLink, error)
}

// LinkHandler manages reusable payment links. A link accepts payments at a
// fixed amount until its configured maximum of successful payments is reached.
type LinkHandler struct {
	store    LinkStore
	validate *validator.Validate
}

// NewLinkHandler creates a new payment link handler
func NewLinkHandler(store LinkStore, validate *validator.Validate) *LinkHandler {
	return &LinkHandler{
		store:    store,
		validate: validate,
	}
}

type createLinkRequest struct {
	MerchantID  string  `json:"merchantId" validate:"required"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	MaxPayments int     `json:"maxPayments" validate:"required,min=1"`
}

// CreateLink handles payment link creation requests
func (h *LinkHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	link := &reconcile.PaymentLink{
		MerchantID:  req.MerchantID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		MaxPayments: req.MaxPayments,
		Status:      reconcile.LinkActive,
	}
	if err := h.store.CreateLink(ctx, link); err != nil {
		response.Error(w, http.StatusInternalServerError, "Payment link creation failed", err)
		return
	}

	response.Success(w, http.StatusCreated, "Payment link created", link)
}

// GetLink handles payment link status requests
func (h *LinkHandler) GetLink(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	linkID := chi.URLParam(r, "linkID")
	if linkID == "" {
		response.Error(w, http.StatusBadRequest, "Link ID is required", nil)
		return
	}

	link, err := h.store.GetLink(ctx, linkID)
	if err != nil {
		if errors.Is(err, reconcile.ErrLinkNotFound) {
			response.Error(w, http.StatusNotFound, "Payment link not found", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to load payment link", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment link retrieved", link)
}
