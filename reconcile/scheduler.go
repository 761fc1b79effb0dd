package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/payrelay/payrelay/infra/logger"
	"github.com/payrelay/payrelay/provider"
)

// SchedulerConfig holds every interval the status watcher uses. Tests inject
// short values; production uses the defaults.
type SchedulerConfig struct {
	// PollOffsets are the one-shot check offsets from payment creation.
	PollOffsets []time.Duration
	// RecurringInterval is the cadence of the per-payment recurring check
	// that follows the one-shot schedule.
	RecurringInterval time.Duration
	// SweepInterval is the cadence of the global backlog sweep.
	SweepInterval time.Duration
	// ExpiryHorizon is the age past which a pending payment can never
	// resolve and is force-expired.
	ExpiryHorizon time.Duration
	// SweepMinAge keeps the sweep away from payments whose individual
	// schedule is presumed still active.
	SweepMinAge time.Duration
	// SweepCallDelay is the fixed pause between provider calls during the
	// sweep, respecting provider rate limits.
	SweepCallDelay time.Duration
	// CheckTimeout bounds a single outbound status check.
	CheckTimeout time.Duration
}

// DefaultSchedulerConfig returns the production schedule: checks at +1, +3,
// +8 and +13 minutes from creation (stepped +1, +2, +5, +5), hourly
// thereafter, hourly sweep, 5-day expiry horizon.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollOffsets:       []time.Duration{1 * time.Minute, 3 * time.Minute, 8 * time.Minute, 13 * time.Minute},
		RecurringInterval: time.Hour,
		SweepInterval:     time.Hour,
		ExpiryHorizon:     5 * 24 * time.Hour,
		SweepMinAge:       time.Hour,
		SweepCallDelay:    time.Second,
		CheckTimeout:      30 * time.Second,
	}
}

// watchEntry owns the live timer handles for one payment. Entries are
// in-process only and never persisted; a restart empties the registry by
// construction and the sweep is the recovery mechanism.
type watchEntry struct {
	paymentID        string
	gatewayPaymentID string
	gateway          string
	createdAt        time.Time
	timers           []*time.Timer
	cancel           chan struct{}
}

// StatusWatcher drives the pull half of reconciliation for providers without
// webhook push: a fine-grained per-payment schedule plus the hourly global
// sweep that recovers coverage lost to restarts and expires stale payments.
type StatusWatcher struct {
	store    Store
	applier  *Applier
	gateways map[string]provider.Gateway
	cfg      SchedulerConfig

	mu      sync.Mutex
	entries map[string]*watchEntry

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewStatusWatcher creates a status watcher over the polling gateways.
// Gateways that push webhooks are ignored even if passed.
func NewStatusWatcher(store Store, applier *Applier, gateways map[string]provider.Gateway, cfg SchedulerConfig) *StatusWatcher {
	polling := make(map[string]provider.Gateway)
	for name, gw := range gateways {
		if gw.RequiresPolling() {
			polling[name] = gw
		}
	}

	return &StatusWatcher{
		store:    store,
		applier:  applier,
		gateways: polling,
		cfg:      cfg,
		entries:  make(map[string]*watchEntry),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the global sweep loop.
func (w *StatusWatcher) Start() {
	w.wg.Add(1)
	go w.sweepLoop()
}

// Stop drains the registry: every entry's timers are cancelled, the sweep
// stops, and in-flight scheduled work is waited out.
func (w *StatusWatcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.stopCh)
	for id := range w.entries {
		w.dropLocked(id)
	}
	w.mu.Unlock()

	w.wg.Wait()
	logger.Info("Status watcher drained")
}

// Register creates the polling schedule for a newly created payment of a
// polling gateway: one-shot checks at the configured offsets from creation,
// then a recurring check.
func (w *StatusWatcher) Register(payment *Payment) {
	if _, ok := w.gateways[payment.Gateway]; !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if _, exists := w.entries[payment.ID]; exists {
		return
	}

	entry := &watchEntry{
		paymentID:        payment.ID,
		gatewayPaymentID: payment.GatewayPaymentID,
		gateway:          payment.Gateway,
		createdAt:        payment.CreatedAt,
		cancel:           make(chan struct{}),
	}

	for _, offset := range w.cfg.PollOffsets {
		delay := time.Until(payment.CreatedAt.Add(offset))
		if delay < 0 {
			continue
		}
		id := payment.ID
		entry.timers = append(entry.timers, time.AfterFunc(delay, func() {
			w.runScheduledCheck(id)
		}))
	}

	w.entries[payment.ID] = entry

	w.wg.Add(1)
	go w.recurringLoop(entry)

	logger.Debug("Payment registered for status polling", logger.LogContext{
		Gateway:   payment.Gateway,
		PaymentID: payment.ID,
	})
}

// Deregister cancels all outstanding timers for a payment.
func (w *StatusWatcher) Deregister(paymentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropLocked(paymentID)
}

// Watching reports whether the payment has a live registry entry.
func (w *StatusWatcher) Watching(paymentID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[paymentID]
	return ok
}

func (w *StatusWatcher) dropLocked(paymentID string) {
	entry, ok := w.entries[paymentID]
	if !ok {
		return
	}
	for _, t := range entry.timers {
		t.Stop()
	}
	close(entry.cancel)
	delete(w.entries, paymentID)
}

// recurringLoop takes over after the last one-shot offset and checks the
// payment at the recurring interval until the entry is cancelled.
func (w *StatusWatcher) recurringLoop(entry *watchEntry) {
	defer w.wg.Done()

	var lastOffset time.Duration
	if n := len(w.cfg.PollOffsets); n > 0 {
		lastOffset = w.cfg.PollOffsets[n-1]
	}

	first := time.Until(entry.createdAt.Add(lastOffset + w.cfg.RecurringInterval))
	if first < 0 {
		first = 0
	}

	timer := time.NewTimer(first)
	defer timer.Stop()

	select {
	case <-entry.cancel:
		return
	case <-w.stopCh:
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(w.cfg.RecurringInterval)
	defer ticker.Stop()

	for {
		w.runScheduledCheck(entry.paymentID)

		select {
		case <-entry.cancel:
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// runScheduledCheck is the body of every per-payment timer fire. The payment
// is reloaded first: if it is no longer pending, or too old to ever resolve,
// the remaining registrations are cancelled without calling the provider.
func (w *StatusWatcher) runScheduledCheck(paymentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CheckTimeout)
	defer cancel()

	payment, err := w.store.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			w.Deregister(paymentID)
			return
		}
		logger.Warn("Scheduled check could not load payment", logger.LogContext{
			PaymentID: paymentID,
			Fields:    map[string]any{"error": err.Error()},
		})
		return
	}

	if payment.Status != provider.StatusPending {
		w.Deregister(paymentID)
		return
	}
	if time.Since(payment.CreatedAt) > w.cfg.ExpiryHorizon {
		// The sweep owns expiry; this schedule just stops wasting calls.
		w.Deregister(paymentID)
		return
	}

	w.checkPayment(ctx, payment)
}

// checkPayment performs one provider status check and feeds the result
// through normalization into the transition applier. A provider failure
// aborts this attempt only; the next scheduled attempt proceeds on its own.
func (w *StatusWatcher) checkPayment(ctx context.Context, payment *Payment) {
	gw, ok := w.gateways[payment.Gateway]
	if !ok {
		return
	}

	result, err := gw.CheckStatus(ctx, payment.GatewayPaymentID)
	if err != nil {
		w.auditCheck(ctx, payment, "", "status check failed: "+err.Error())
		logger.Warn("Provider status check failed", logger.LogContext{
			Gateway:   payment.Gateway,
			PaymentID: payment.ID,
			Fields:    map[string]any{"error": err.Error()},
		})
		return
	}

	newStatus := gw.NormalizeStatus(result.RawStatus)
	raw, _ := json.Marshal(result)
	w.auditCheck(ctx, payment, result.RawStatus, "")

	if _, err := w.applier.Apply(ctx, payment.ID, newStatus, EnrichmentFromDetails(result.RawDetails), string(raw)); err != nil {
		logger.Error("Failed to apply polled status", err, logger.LogContext{
			Gateway:   payment.Gateway,
			PaymentID: payment.ID,
			Fields:    map[string]any{"raw_status": result.RawStatus},
		})
	}
}

func (w *StatusWatcher) auditCheck(ctx context.Context, payment *Payment, rawStatus, note string) {
	entry := &AuditEntry{
		Gateway:    payment.Gateway,
		PaymentRef: payment.ID,
		Kind:       AuditStatusCheck,
		OldStatus:  payment.Status,
		Note:       note,
		RawPayload: rawStatus,
	}
	if err := w.store.InsertAudit(ctx, entry); err != nil {
		logger.Warn("Failed to audit status check", logger.LogContext{
			Gateway:   payment.Gateway,
			PaymentID: payment.ID,
			Fields:    map[string]any{"error": err.Error()},
		})
	}
}

func (w *StatusWatcher) sweepLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep is the hourly backstop over the whole pending backlog of every
// polling gateway. First pass force-expires payments beyond the horizon,
// which is also the recovery path for payments whose individual timers were
// lost to a restart. Second pass checks the remainder, skipping payments that still
// have a live registry entry and payments young enough that their own
// schedule is presumed active.
func (w *StatusWatcher) Sweep() {
	ctx := context.Background()
	now := time.Now()

	for name := range w.gateways {
		w.sweepExpired(ctx, name, now)
		w.sweepPending(ctx, name, now)
	}
}

func (w *StatusWatcher) sweepExpired(ctx context.Context, gateway string, now time.Time) {
	stale, err := w.store.ListPendingOlderThan(ctx, gateway, now.Add(-w.cfg.ExpiryHorizon))
	if err != nil {
		logger.Error("Sweep could not list stale payments", err, logger.LogContext{Gateway: gateway})
		return
	}

	for _, payment := range stale {
		// Bypasses the normalizer: expiry is a decision of this engine,
		// not a provider status.
		if _, err := w.applier.Apply(ctx, payment.ID, provider.StatusExpired, Enrichment{}, ""); err != nil {
			logger.Error("Sweep failed to expire payment", err, logger.LogContext{
				Gateway:   gateway,
				PaymentID: payment.ID,
			})
		}
		w.Deregister(payment.ID)
	}

	if len(stale) > 0 {
		logger.Info("Sweep expired stale payments", logger.LogContext{
			Gateway: gateway,
			Fields:  map[string]any{"count": len(stale)},
		})
	}
}

func (w *StatusWatcher) sweepPending(ctx context.Context, gateway string, now time.Time) {
	pending, err := w.store.ListPending(ctx, gateway)
	if err != nil {
		logger.Error("Sweep could not list pending payments", err, logger.LogContext{Gateway: gateway})
		return
	}

	for _, payment := range pending {
		if w.Watching(payment.ID) {
			continue
		}
		age := now.Sub(payment.CreatedAt)
		if age < w.cfg.SweepMinAge || age > w.cfg.ExpiryHorizon {
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, w.cfg.CheckTimeout)
		w.checkPayment(checkCtx, payment)
		cancel()

		select {
		case <-w.stopCh:
			return
		case <-time.After(w.cfg.SweepCallDelay):
		}
	}
}
