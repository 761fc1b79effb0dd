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

// PaymentServiceInterface defines the interface for payment operations
type PaymentServiceInterface interface {
	CreatePayment(ctx context.Context, req reconcile.CreatePaymentRequest) (*reconcile.Payment, error)
	GetPayment(ctx context.Context, id string) (*reconcile.Payment, error)
	ProcessWebhook(ctx context.Context, gatewayName string, payload map[string]string) (*reconcile.WebhookOutcome, error)
}

// PaymentHandler handles payment related HTTP requests
type PaymentHandler struct {
	paymentService PaymentServiceInterface
	validate       *validator.Validate
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService PaymentServiceInterface, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		validate:       validate,
	}
}

// CreatePayment handles payment creation requests
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req reconcile.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	payment, err := h.paymentService.CreatePayment(ctx, req)
	if err != nil {
		if errors.Is(err, reconcile.ErrLinkNotFound) || errors.Is(err, reconcile.ErrLinkCompleted) {
			response.Error(w, http.StatusConflict, "Payment link unavailable", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Payment creation failed", err)
		return
	}

	response.Success(w, http.StatusCreated, "Payment created", payment)
}

// GetPayment handles payment status requests
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		response.Error(w, http.StatusBadRequest, "Payment ID is required", nil)
		return
	}

	payment, err := h.paymentService.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, reconcile.ErrPaymentNotFound) {
			response.Error(w, http.StatusNotFound, "Payment not found", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to load payment", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment retrieved", payment)
}
