package provider

import "strings"

// StatusTable is a data-driven mapping from a provider's raw status
// vocabulary to the canonical vocabulary. Lookups are case-insensitive.
//
// Mapping rules shared by all providers:
//   - ambiguous or partial vendor states normalize to PROCESSING, never
//     directly to PAID; only an explicit fully-settled signal maps to PAID
//   - unrecognized tokens normalize to PENDING so an unknown vocabulary
//     token can never silently fail a payment
type StatusTable map[string]Status

// Normalize maps a raw vendor status token to its canonical status.
func (t StatusTable) Normalize(raw string) Status {
	if status, ok := t[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status
	}
	return StatusPending
}

// EventClass maps a canonical status to the merchant webhook event class.
func EventClass(status Status) string {
	switch status {
	case StatusPaid:
		return "payment.success"
	case StatusFailed, StatusExpired:
		return "payment.failed"
	default:
		return "payment.pending"
	}
}
