package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/payrelay/payrelay/infra/logger"
	"github.com/payrelay/payrelay/infra/response"
	"github.com/payrelay/payrelay/provider"
	"github.com/payrelay/payrelay/reconcile"
)

// WebhookHandler receives provider push notifications
type WebhookHandler struct {
	paymentService PaymentServiceInterface
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(paymentService PaymentServiceInterface) *WebhookHandler {
	return &WebhookHandler{
		paymentService: paymentService,
	}
}

// HandleWebhook processes an inbound provider webhook. Providers post either
// form-encoded or JSON bodies; both are flattened into a string map before
// normalization. Replayed deliveries get the same 200 as the first one.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	gatewayName := chi.URLParam(r, "gateway")
	if gatewayName == "" {
		response.Error(w, http.StatusBadRequest, "Gateway parameter is required", nil)
		return
	}

	// Parse webhook data based on content type
	var webhookData map[string]string
	contentType := r.Header.Get("Content-Type")

	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid form data", err)
			return
		}

		webhookData = make(map[string]string)
		for key, values := range r.Form {
			if len(values) > 0 {
				webhookData[key] = values[0]
			}
		}
	} else {
		if err := decodeFlatJSON(r, &webhookData); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON webhook data", err)
			return
		}
	}

	// Signature headers take precedence over any body field of the same name
	if sig := r.Header.Get("X-Signature"); sig != "" {
		webhookData["signature"] = sig
	}

	outcome, err := h.paymentService.ProcessWebhook(ctx, gatewayName, webhookData)
	if err != nil {
		var provErr *provider.ProviderError
		switch {
		case errors.As(err, &provErr):
			logger.Warn("Webhook rejected", logger.LogContext{
				Gateway: gatewayName,
				Fields:  map[string]any{"error": err.Error()},
			})
			response.Error(w, http.StatusBadRequest, "Webhook validation failed", err)
		case errors.Is(err, reconcile.ErrPaymentNotFound):
			// Already audited as an anomaly by the resolver. 200 keeps the
			// provider from retrying a webhook we can never match.
			response.Success(w, http.StatusOK, "Webhook received, no matching payment", nil)
		default:
			logger.Error("Webhook processing failed", err, logger.LogContext{
				Gateway: gatewayName,
			})
			response.Error(w, http.StatusInternalServerError, "Webhook processing failed", err)
		}
		return
	}

	response.Success(w, http.StatusOK, "Webhook processed", outcome)
}

// decodeFlatJSON decodes a JSON object into a string map, stringifying
// numeric and boolean values so providers that send amounts as numbers flow
// through the same code path as form posts.
func decodeFlatJSON(r *http.Request, out *map[string]string) error {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return err
	}

	data := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			data[key] = v
		case nil:
			// skip
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			data[key] = string(b)
		}
	}

	*out = data
	return nil
}
