// Package reconcile keeps internal payment records consistent with provider
// reality across push (webhook) and pull (status poll) channels, and fires
// merchant-facing side effects exactly once per genuine status transition.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/payrelay/payrelay/provider"
)

// Payment is the unit of reconciliation.
type Payment struct {
	ID               string          `json:"id"`
	MerchantID       string          `json:"merchantId"`
	OrderID          string          `json:"orderId,omitempty"`
	GatewayOrderNo   string          `json:"gatewayOrderNo"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty"`
	Gateway          string          `json:"gateway"`
	LinkID           string          `json:"linkId,omitempty"`
	Amount           float64         `json:"amount"`
	Currency         string          `json:"currency"`
	Status           provider.Status `json:"status"`
	PayURL           string          `json:"payUrl,omitempty"`
	CustomerEmail    string          `json:"customerEmail,omitempty"`
	CustomerName     string          `json:"customerName,omitempty"`
	PaymentMethod    string          `json:"paymentMethod,omitempty"`
	BankID           string          `json:"bankId,omitempty"`
	RemitterIBAN     string          `json:"remitterIban,omitempty"`
	RemitterName     string          `json:"remitterName,omitempty"`
	CardLast4        string          `json:"cardLast4,omitempty"`
	Version          int64           `json:"-"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
}

// PaymentLink is a reusable fixed-amount checkout page that accepts up to
// MaxPayments successful payments before closing.
type PaymentLink struct {
	ID          string    `json:"id"`
	MerchantID  string    `json:"merchantId"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	MaxPayments int       `json:"maxPayments"`
	UsedCount   int       `json:"usedCount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Payment link statuses
const (
	LinkActive    = "active"
	LinkCompleted = "completed"
)

// Enrichment carries optional fields harvested from a raw provider payload.
// Persisting enrichment alone never counts as a transition.
type Enrichment struct {
	PaymentMethod string
	BankID        string
	RemitterIBAN  string
	RemitterName  string
	CardLast4     string
}

// Empty reports whether the enrichment carries nothing to persist.
func (e Enrichment) Empty() bool {
	return e == Enrichment{}
}

// EnrichmentFromDetails picks the known enrichment fields out of a raw
// provider detail map.
func EnrichmentFromDetails(details map[string]string) Enrichment {
	return Enrichment{
		PaymentMethod: details["payment_method"],
		BankID:        details["bank_id"],
		RemitterIBAN:  details["remitter_iban"],
		RemitterName:  details["remitter_name"],
		CardLast4:     details["card_last4"],
	}
}

// AuditKind classifies append-only audit log entries.
type AuditKind string

const (
	AuditWebhookIn   AuditKind = "webhook_in"
	AuditWebhookOut  AuditKind = "webhook_out"
	AuditStatusCheck AuditKind = "status_check"
	AuditTransition  AuditKind = "transition"
	AuditAnomaly     AuditKind = "anomaly"
)

// AuditEntry is an append-only forensic record: every inbound webhook, every
// outbound merchant webhook attempt and every status check attempt gets one.
// The engine creates entries and never mutates or deletes them.
type AuditEntry struct {
	ID         string          `json:"id"`
	Gateway    string          `json:"gateway"`
	PaymentRef string          `json:"paymentRef"`
	Kind       AuditKind       `json:"kind"`
	OldStatus  provider.Status `json:"oldStatus,omitempty"`
	NewStatus  provider.Status `json:"newStatus,omitempty"`
	Note       string          `json:"note,omitempty"`
	RawPayload string          `json:"rawPayload,omitempty"`
	HTTPStatus int             `json:"httpStatus,omitempty"`
	LatencyMs  int64           `json:"latencyMs,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ReferenceField identifies which payment column an external reference is
// matched against. Providers are inconsistent about which identifier they
// echo back, so the resolver tries these in order.
type ReferenceField string

const (
	RefInternalID       ReferenceField = "id"
	RefOrderID          ReferenceField = "order_id"
	RefGatewayOrderNo   ReferenceField = "gateway_order_no"
	RefGatewayPaymentID ReferenceField = "gateway_payment_id"
)

// ResolveOrder is the candidate field sequence the resolver walks.
var ResolveOrder = []ReferenceField{RefInternalID, RefOrderID, RefGatewayOrderNo, RefGatewayPaymentID}

var (
	// ErrPaymentNotFound means no payment record matches any candidate
	// reference. Reported, never retried: retry cannot manufacture a record
	// that was never created.
	ErrPaymentNotFound = errors.New("reconcile: payment not found")

	// ErrConflict means a concurrent writer applied a transition first. The
	// losing writer simply does not re-apply; this is the expected outcome
	// of the idempotency design, not a failure.
	ErrConflict = errors.New("reconcile: transition lost write race")

	// ErrLinkNotFound means the referenced payment link does not exist.
	ErrLinkNotFound = errors.New("reconcile: payment link not found")

	// ErrLinkCompleted means the link already accepted its maximum number of
	// successful payments.
	ErrLinkCompleted = errors.New("reconcile: payment link already completed")
)

// SideEffectError marks a single side-effect channel failure. It is logged
// per channel and never rolls back the persisted status change.
type SideEffectError struct {
	Channel string
	Err     error
}

func (e *SideEffectError) Error() string {
	return "reconcile: side effect " + e.Channel + " failed: " + e.Err.Error()
}

func (e *SideEffectError) Unwrap() error { return e.Err }

// Store is the persistence seam for the reconciliation engine. The
// implementation must make ApplyTransition a conditional write keyed on the
// previously observed version so a concurrent webhook and poll cannot both
// apply a transition from the same stale baseline.
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	FindByReference(ctx context.Context, gateway string, field ReferenceField, value string) (*Payment, error)
	OrderNoExists(ctx context.Context, orderNo string) (bool, error)

	// ApplyTransition persists newStatus with a conditional write on the
	// observed version. Returns ErrConflict when the version no longer
	// matches. setPaidAt stamps paid_at, only ever on the first PAID. The
	// caller supplies at so the persisted row and the dispatched payment
	// snapshot carry the same timestamps.
	ApplyTransition(ctx context.Context, id string, version int64, newStatus provider.Status, setPaidAt bool, at time.Time, enrich Enrichment) error

	// SaveEnrichment persists enrichment fields without touching status or
	// version. Used on the "status unchanged" path.
	SaveEnrichment(ctx context.Context, id string, enrich Enrichment) error

	ListPendingOlderThan(ctx context.Context, gateway string, cutoff time.Time) ([]*Payment, error)
	ListPending(ctx context.Context, gateway string) ([]*Payment, error)

	GetLink(ctx context.Context, id string) (*PaymentLink, error)

	// RecountLinkUsage recomputes the link usage counter as 1 + the number
	// of sibling PAID payments with a non-null paid timestamp, excluding
	// excludePaymentID, inside a single transaction, and flips the link to
	// completed once the recomputed count reaches its configured maximum.
	RecountLinkUsage(ctx context.Context, linkID, excludePaymentID string) (count int, completed bool, err error)

	InsertAudit(ctx context.Context, entry *AuditEntry) error
}

// MerchantSettings is the slice of merchant configuration the side-effect
// dispatcher needs: where to relay webhooks and which channels are enabled.
type MerchantSettings struct {
	WebhookURL    string
	Events        []string
	Notifications []string
}

// SubscribedTo reports whether the merchant subscribed to an event class.
func (s *MerchantSettings) SubscribedTo(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// NotificationEnabled reports whether a notification category is enabled.
func (s *MerchantSettings) NotificationEnabled(category string) bool {
	for _, c := range s.Notifications {
		if c == category {
			return true
		}
	}
	return false
}

// SettingsSource resolves merchant settings at dispatch time.
type SettingsSource interface {
	MerchantSettings(ctx context.Context, merchantID string) (*MerchantSettings, error)
}

// Notifier delivers human-readable notifications to the merchant's
// configured channel. Transport is out of scope for the engine; delivery is
// fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, merchantID, category, message string) error
}
