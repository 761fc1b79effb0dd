package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the canonical payment status vocabulary that every
// provider-specific status is normalized into. REFUND and CHARGEBACK are
// operator-driven record states; the reconciliation engine only ever writes
// the first five.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusExpired    Status = "EXPIRED"
	StatusFailed     Status = "FAILED"
	StatusRefund     Status = "REFUND"
	StatusChargeback Status = "CHARGEBACK"
)

// IsTerminal reports whether the engine considers the status final.
// Terminal payments are never transitioned again by reconciliation.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusFailed
}

// ErrStatusCheckUnsupported is returned by CheckStatus on providers that push
// webhooks and therefore are never polled.
var ErrStatusCheckUnsupported = errors.New("provider: status check not supported")

// ProviderError represents a failed or malformed upstream response.
type ProviderError struct {
	Gateway    string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: provider error (http %d): %s", e.Gateway, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: provider error: %s", e.Gateway, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// LinkRequest contains the information required to create a checkout link.
type LinkRequest struct {
	GatewayOrderNo string  `json:"gatewayOrderNo"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Description    string  `json:"description,omitempty"`
	CustomerEmail  string  `json:"customerEmail,omitempty"`
	CustomerName   string  `json:"customerName,omitempty"`
	CallbackURL    string  `json:"callbackUrl,omitempty"`
}

// LinkResult is the provider's answer to a link creation request.
type LinkResult struct {
	GatewayPaymentID string `json:"gatewayPaymentId"`
	PayURL           string `json:"payUrl"`
}

// StatusResult is a raw provider status as returned by an active check.
// RawStatus is vendor vocabulary; normalization happens in the engine.
type StatusResult struct {
	RawStatus  string            `json:"rawStatus"`
	RawAmount  float64           `json:"rawAmount,omitempty"`
	RawDetails map[string]string `json:"rawDetails,omitempty"`
}

// WebhookData is the normalized shape of an inbound provider webhook.
// ExternalPaymentRef may be any identifier the provider chooses to echo back;
// the identity resolver sorts out which one it is.
type WebhookData struct {
	ExternalPaymentRef string            `json:"externalPaymentRef"`
	RawStatus          string            `json:"rawStatus"`
	RawAmount          float64           `json:"rawAmount,omitempty"`
	RawDetails         map[string]string `json:"rawDetails,omitempty"`
}

// Gateway defines the capability contract every payment provider adapter
// implements. Wire-level request and signature details stay inside the
// adapter; the reconciliation engine depends only on this seam.
type Gateway interface {
	// Initialize sets up the provider with its credentials and endpoints.
	Initialize(config map[string]string) error

	// Name returns the provider tag stored on payments it owns.
	Name() string

	// RequiresPolling reports whether this provider has no webhook push and
	// must be actively polled by the status watcher.
	RequiresPolling() bool

	// CreateLink creates a checkout link for a new payment.
	CreateLink(ctx context.Context, request LinkRequest) (*LinkResult, error)

	// CheckStatus fetches the current raw status of a payment. Providers
	// that push webhooks return ErrStatusCheckUnsupported.
	CheckStatus(ctx context.Context, gatewayPaymentID string) (*StatusResult, error)

	// NormalizeWebhook converts a provider-specific webhook payload into the
	// common shape. It does not resolve the payment or normalize the status.
	NormalizeWebhook(payload map[string]string) (*WebhookData, error)

	// NormalizeStatus maps a raw vendor status token to the canonical vocabulary.
	NormalizeStatus(raw string) Status
}

// GatewayFactory is a function type that creates a new Gateway instance.
type GatewayFactory func() Gateway

// DefaultTimeout is the outbound call timeout applied when a provider does
// not configure its own.
const DefaultTimeout = 30 * time.Second
