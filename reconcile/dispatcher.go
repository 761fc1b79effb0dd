package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/payrelay/payrelay/infra/logger"
	"github.com/payrelay/payrelay/provider"
)

// Dispatcher fires the side effects bound to a genuine status transition:
// merchant webhook relay, notification, and the payout-link counter
// recomputation. Channels run in order but are fault-isolated: one failing
// never blocks another, and none affects the already-persisted status.
type Dispatcher struct {
	store    Store
	settings SettingsSource
	notifier Notifier
	client   *http.Client
}

// NewDispatcher creates a new side-effect dispatcher
func NewDispatcher(store Store, settings SettingsSource, notifier Notifier, webhookTimeout time.Duration) *Dispatcher {
	if webhookTimeout == 0 {
		webhookTimeout = 15 * time.Second
	}
	return &Dispatcher{
		store:    store,
		settings: settings,
		notifier: notifier,
		client:   &http.Client{Timeout: webhookTimeout},
	}
}

// merchantPayload is the normalized outbound webhook body.
type merchantPayload struct {
	Event   string          `json:"event"`
	Payment merchantPayment `json:"payment"`
}

type merchantPayment struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	GatewayOrderNo string    `json:"gateway_order_no"`
	Gateway        string    `json:"gateway"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	CustomerEmail  string    `json:"customer_email"`
	CustomerName   string    `json:"customer_name"`
	CardLast4      string    `json:"card_last4,omitempty"`
	PaymentMethod  string    `json:"payment_method,omitempty"`
	BankID         string    `json:"bank_id,omitempty"`
	RemitterIBAN   string    `json:"remitter_iban,omitempty"`
	RemitterName   string    `json:"remitter_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Dispatch fires all side effects for one genuine transition.
func (d *Dispatcher) Dispatch(ctx context.Context, payment *Payment, oldStatus, newStatus provider.Status, firstPaid bool) {
	event := provider.EventClass(newStatus)

	settings, err := d.settings.MerchantSettings(ctx, payment.MerchantID)
	if err != nil {
		logger.Warn("Failed to load merchant settings, skipping relay and notification", logger.LogContext{
			Gateway:   payment.Gateway,
			PaymentID: payment.ID,
			Fields:    map[string]any{"merchant_id": payment.MerchantID, "error": err.Error()},
		})
		settings = nil
	}

	if settings != nil && settings.WebhookURL != "" && settings.SubscribedTo(event) {
		if err := d.relayWebhook(ctx, settings.WebhookURL, event, payment); err != nil {
			logger.Error("Merchant webhook relay failed", err, logger.LogContext{
				Gateway:   payment.Gateway,
				PaymentID: payment.ID,
				Fields:    map[string]any{"event": event, "url": settings.WebhookURL},
			})
		}
	}

	if settings != nil && settings.NotificationEnabled(event) {
		d.notify(payment, event, newStatus)
	}

	if firstPaid && payment.LinkID != "" {
		if err := d.recountLink(ctx, payment); err != nil {
			logger.Error("Payment link recount failed", err, logger.LogContext{
				Gateway:   payment.Gateway,
				PaymentID: payment.ID,
				Fields:    map[string]any{"link_id": payment.LinkID},
			})
		}
	}
}

// relayWebhook POSTs the normalized payload to the merchant's callback URL.
// The attempt is audit-logged with response code and latency; failures are
// recorded, not retried automatically.
func (d *Dispatcher) relayWebhook(ctx context.Context, url, event string, payment *Payment) error {
	payload := merchantPayload{
		Event: event,
		Payment: merchantPayment{
			ID:             payment.ID,
			OrderID:        payment.OrderID,
			GatewayOrderNo: payment.GatewayOrderNo,
			Gateway:        payment.Gateway,
			Amount:         payment.Amount,
			Currency:       payment.Currency,
			Status:         string(payment.Status),
			CustomerEmail:  payment.CustomerEmail,
			CustomerName:   payment.CustomerName,
			CardLast4:      payment.CardLast4,
			PaymentMethod:  payment.PaymentMethod,
			BankID:         payment.BankID,
			RemitterIBAN:   payment.RemitterIBAN,
			RemitterName:   payment.RemitterName,
			CreatedAt:      payment.CreatedAt,
			UpdatedAt:      payment.UpdatedAt,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &SideEffectError{Channel: "merchant_webhook", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &SideEffectError{Channel: "merchant_webhook", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start).Milliseconds()

	entry := &AuditEntry{
		Gateway:    payment.Gateway,
		PaymentRef: payment.ID,
		Kind:       AuditWebhookOut,
		NewStatus:  payment.Status,
		RawPayload: string(body),
		LatencyMs:  latency,
	}

	if err != nil {
		entry.Note = "delivery failed: " + err.Error()
		d.insertAudit(ctx, payment, entry)
		return &SideEffectError{Channel: "merchant_webhook", Err: err}
	}
	defer resp.Body.Close()

	entry.HTTPStatus = resp.StatusCode
	d.insertAudit(ctx, payment, entry)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SideEffectError{Channel: "merchant_webhook", Err: fmt.Errorf("merchant endpoint returned %d", resp.StatusCode)}
	}

	logger.Info("Merchant webhook relayed", logger.LogContext{
		Gateway:   payment.Gateway,
		PaymentID: payment.ID,
		Fields:    map[string]any{"event": event, "http_status": resp.StatusCode, "latency_ms": latency},
	})
	return nil
}

// notify delivers a human-readable message; fire-and-forget for the engine.
func (d *Dispatcher) notify(payment *Payment, category string, newStatus provider.Status) {
	message := fmt.Sprintf("Payment %s (%s %.2f %s) is now %s",
		payment.GatewayOrderNo, payment.Gateway, payment.Amount, payment.Currency, newStatus)

	merchantID := payment.MerchantID
	gateway := payment.Gateway
	paymentID := payment.ID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := d.notifier.Notify(ctx, merchantID, category, message); err != nil {
			logger.Warn("Notification delivery failed", logger.LogContext{
				Gateway:   gateway,
				PaymentID: paymentID,
				Fields:    map[string]any{"category": category, "error": err.Error()},
			})
		}
	}()
}

// recountLink recomputes the link usage counter instead of blindly
// incrementing, which makes the operation safe against duplicate delivery of
// the same transition and against double-counting a sibling.
func (d *Dispatcher) recountLink(ctx context.Context, payment *Payment) error {
	count, completed, err := d.store.RecountLinkUsage(ctx, payment.LinkID, payment.ID)
	if err != nil {
		return &SideEffectError{Channel: "link_counter", Err: err}
	}

	logger.Info("Payment link usage recounted", logger.LogContext{
		Gateway:   payment.Gateway,
		PaymentID: payment.ID,
		Fields:    map[string]any{"link_id": payment.LinkID, "used_count": count, "completed": completed},
	})
	return nil
}

func (d *Dispatcher) insertAudit(ctx context.Context, payment *Payment, entry *AuditEntry) {
	if err := d.store.InsertAudit(ctx, entry); err != nil {
		logger.Warn("Failed to audit webhook relay", logger.LogContext{
			Gateway:   payment.Gateway,
			PaymentID: payment.ID,
			Fields:    map[string]any{"error": err.Error()},
		})
	}
}
