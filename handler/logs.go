package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/payrelay/payrelay/infra/response"
	"github.com/payrelay/payrelay/reconcile"
)

// AuditStore reads the append-only reconciliation audit trail.
type AuditStore interface {
	ListAudit(ctx context.Context, paymentRef string, limit int) ([]*reconcile.AuditEntry, error)
}

// LogsHandler exposes the audit trail of a payment: every inbound webhook,
// status check, transition, anomaly and outbound relay attempt.
type LogsHandler struct {
	store AuditStore
}

// NewLogsHandler creates a new audit trail handler
func NewLogsHandler(store AuditStore) *LogsHandler {
	return &LogsHandler{store: store}
}

// GetPaymentLogs returns the most recent audit entries for a payment
func (h *LogsHandler) GetPaymentLogs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		response.Error(w, http.StatusBadRequest, "Payment ID is required", nil)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			response.Error(w, http.StatusBadRequest, "Limit must be between 1 and 1000", nil)
			return
		}
		limit = parsed
	}

	entries, err := h.store.ListAudit(ctx, paymentID, limit)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to load audit trail", err)
		return
	}

	response.Success(w, http.StatusOK, "Audit trail retrieved", map[string]any{
		"paymentId": paymentID,
		"count":     len(entries),
		"entries":   entries,
	})
}
