package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/payrelay/payrelay/infra/logger"
	"github.com/payrelay/payrelay/provider"
)

// Deregistrar cancels all outstanding poll timers for a payment. Implemented
// by the status watcher; bound after construction because the watcher also
// calls back into the applier.
type Deregistrar interface {
	Deregister(paymentID string)
}

// Applier is the transition state machine. It compares the authoritative
// current status against the incoming canonical status and either records a
// no-op ("status unchanged") or persists the transition and fires side
// effects exactly once. The compare-then-conditionally-act discipline is the
// sole idempotency guarantee: racing webhook and poll paths may both attempt
// the same transition, but only the writer that wins the versioned update
// actually changes anything.
type Applier struct {
	store      Store
	dispatcher *Dispatcher
	watcher    Deregistrar
}

// NewApplier creates a new transition applier
func NewApplier(store Store, dispatcher *Dispatcher) *Applier {
	return &Applier{store: store, dispatcher: dispatcher}
}

// AttachWatcher binds the timer registry used to cancel polling once a
// payment leaves PENDING.
func (a *Applier) AttachWatcher(w Deregistrar) {
	a.watcher = w
}

// Apply reconciles one observed status against the payment record. It
// returns true when a genuine transition was persisted. Side-effect failures
// are contained and never roll back the persisted status.
func (a *Applier) Apply(ctx context.Context, paymentID string, newStatus provider.Status, enrich Enrichment, rawPayload string) (bool, error) {
	// Single authoritative read immediately before compare.
	payment, err := a.store.GetPayment(ctx, paymentID)
	if err != nil {
		return false, fmt.Errorf("load payment %s: %w", paymentID, err)
	}

	if newStatus == payment.Status {
		if !enrich.Empty() {
			if err := a.store.SaveEnrichment(ctx, paymentID, enrich); err != nil {
				return false, fmt.Errorf("save enrichment for %s: %w", paymentID, err)
			}
		}
		a.audit(ctx, payment, payment.Status, newStatus, AuditTransition, "status unchanged", rawPayload)
		return false, nil
	}

	if payment.Status.IsTerminal() {
		// Forward-only: reconciliation never moves a terminal payment.
		// REFUND/CHARGEBACK are operator overrides outside this engine.
		a.audit(ctx, payment, payment.Status, newStatus, AuditAnomaly, "transition rejected: payment already terminal", rawPayload)
		logger.Warn("Rejected transition on terminal payment", logger.LogContext{
			Gateway:   payment.Gateway,
			PaymentID: payment.ID,
			Fields:    map[string]any{"current": payment.Status, "incoming": newStatus},
		})
		return false, nil
	}

	firstPaid := newStatus == provider.StatusPaid && payment.PaidAt == nil
	now := time.Now().UTC()

	err = a.store.ApplyTransition(ctx, paymentID, payment.Version, newStatus, firstPaid, now, enrich)
	if errors.Is(err, ErrConflict) {
		// A concurrent writer got there first. Expected under racing
		// delivery; the loser simply does not re-apply.
		logger.Debug("Transition lost write race", logger.LogContext{
			Gateway:   payment.Gateway,
			PaymentID: payment.ID,
			Fields:    map[string]any{"incoming": newStatus},
		})
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persist transition %s -> %s for %s: %w", payment.Status, newStatus, paymentID, err)
	}

	a.audit(ctx, payment, payment.Status, newStatus, AuditTransition, "", rawPayload)

	logger.Info("Payment transitioned", logger.LogContext{
		Gateway:   payment.Gateway,
		PaymentID: payment.ID,
		Fields:    map[string]any{"from": payment.Status, "to": newStatus},
	})

	updated := a.updatedCopy(payment, newStatus, firstPaid, now, enrich)

	// Every side effect is attempted before the transition is considered
	// complete; failures are logged per channel, never rolled back.
	a.dispatcher.Dispatch(ctx, updated, payment.Status, newStatus, firstPaid)

	if newStatus != provider.StatusPending && a.watcher != nil {
		a.watcher.Deregister(paymentID)
	}

	return true, nil
}

// updatedCopy mirrors the persisted transition in memory. It reuses the
// timestamp given to the store so the dispatched snapshot and the stored row
// never drift.
func (a *Applier) updatedCopy(payment *Payment, newStatus provider.Status, firstPaid bool, now time.Time, enrich Enrichment) *Payment {
	updated := *payment
	updated.Status = newStatus
	updated.Version = payment.Version + 1
	updated.UpdatedAt = now
	if firstPaid {
		updated.PaidAt = &now
	}
	if enrich.PaymentMethod != "" {
		updated.PaymentMethod = enrich.PaymentMethod
	}
	if enrich.BankID != "" {
		updated.BankID = enrich.BankID
	}
	if enrich.RemitterIBAN != "" {
		updated.RemitterIBAN = enrich.RemitterIBAN
	}
	if enrich.RemitterName != "" {
		updated.RemitterName = enrich.RemitterName
	}
	if enrich.CardLast4 != "" {
		updated.CardLast4 = enrich.CardLast4
	}
	return &updated
}

func (a *Applier) audit(ctx context.Context, payment *Payment, oldStatus, newStatus provider.Status, kind AuditKind, note, rawPayload string) {
	entry := &AuditEntry{
		Gateway:    payment.Gateway,
		PaymentRef: payment.ID,
		Kind:       kind,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		Note:       note,
		RawPayload: rawPayload,
	}
	if err := a.store.InsertAudit(ctx, entry); err != nil {
		logger.Warn("Failed to write audit entry", logger.LogContext{
			Gateway:   payment.Gateway,
			PaymentID: payment.ID,
			Fields:    map[string]any{"kind": kind, "error": err.Error()},
		})
	}
}
