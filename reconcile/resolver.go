package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/payrelay/payrelay/infra/logger"
)

// Resolver finds the internal payment record for any externally supplied
// reference. Providers are inconsistent about which identifier they echo
// back: it could be our internal id, the merchant's order id, the gateway
// order number we generated, or the provider's native payment id. Each
// candidate field is tried in turn until a unique match is found.
type Resolver struct {
	store Store
}

// NewResolver creates a new payment identity resolver
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the unique payment matching ref within the given gateway.
// A miss is an anomaly: it is audit-logged and surfaced to operators, never
// retried.
func (r *Resolver) Resolve(ctx context.Context, gateway, ref string) (*Payment, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrPaymentNotFound)
	}

	for _, field := range ResolveOrder {
		payment, err := r.store.FindByReference(ctx, gateway, field, ref)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, fmt.Errorf("resolve %s by %s: %w", ref, field, err)
		}
	}

	r.reportMiss(ctx, gateway, ref)
	return nil, fmt.Errorf("%w: gateway %s ref %s", ErrPaymentNotFound, gateway, ref)
}

func (r *Resolver) reportMiss(ctx context.Context, gateway, ref string) {
	entry := &AuditEntry{
		Gateway:    gateway,
		PaymentRef: ref,
		Kind:       AuditAnomaly,
		Note:       "no payment record matches any candidate reference",
	}
	if err := r.store.InsertAudit(ctx, entry); err != nil {
		logger.Warn("Failed to audit unresolved payment reference", logger.LogContext{
			Gateway: gateway,
			Fields:  map[string]any{"ref": ref, "error": err.Error()},
		})
	}

	logger.Error("Webhook references unknown payment", nil, logger.LogContext{
		Gateway: gateway,
		Fields:  map[string]any{"ref": ref},
	})
}
