package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrelay/payrelay/provider"
)

// recordingSink captures indexed audit entries for assertions.
type recordingSink struct {
	mu      sync.Mutex
	entries []*AuditEntry
	err     error
}

func (s *recordingSink) IndexAudit(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *recordingSink) indexed() []*AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AuditEntry(nil), s.entries...)
}

func TestAuditedStore_FansOutToSink(t *testing.T) {
	mem := newMemStore()
	sink := &recordingSink{}
	store := NewAuditedStore(mem, sink)

	entry := &AuditEntry{
		Gateway:    "fiatum",
		PaymentRef: "pay-1",
		Kind:       AuditTransition,
		OldStatus:  provider.StatusPending,
		NewStatus:  provider.StatusPaid,
	}
	require.NoError(t, store.InsertAudit(context.Background(), entry))

	// Both the authoritative store and the search sink see the entry
	assert.Len(t, mem.auditsOfKind(AuditTransition), 1)
	indexed := sink.indexed()
	require.Len(t, indexed, 1)
	assert.Equal(t, "pay-1", indexed[0].PaymentRef)
}

func TestAuditedStore_SinkFailureDoesNotSurface(t *testing.T) {
	mem := newMemStore()
	sink := &recordingSink{err: errors.New("index unavailable")}
	store := NewAuditedStore(mem, sink)

	err := store.InsertAudit(context.Background(), &AuditEntry{
		Gateway: "fiatum",
		Kind:    AuditAnomaly,
	})
	require.NoError(t, err)

	// The database insert still happened
	assert.Len(t, mem.auditsOfKind(AuditAnomaly), 1)
}

func TestAuditedStore_EngineAuditsReachSink(t *testing.T) {
	mem := newMemStore()
	sink := &recordingSink{}
	store := NewAuditedStore(mem, sink)

	applier := NewApplier(store, NewDispatcher(store, emptySettings{}, LogNotifier{}, time.Second))
	seedPayment(t, mem, provider.StatusPending)

	transitioned, err := applier.Apply(context.Background(), "pay-1", provider.StatusPaid, Enrichment{}, "{}")
	require.NoError(t, err)
	assert.True(t, transitioned)

	indexed := sink.indexed()
	require.Len(t, indexed, 1)
	assert.Equal(t, AuditTransition, indexed[0].Kind)
	assert.Equal(t, provider.StatusPaid, indexed[0].NewStatus)
}

func TestSearchEvent_FieldMapping(t *testing.T) {
	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	entry := &AuditEntry{
		ID:         "evt-1",
		Gateway:    "clopay",
		PaymentRef: "pay-9",
		Kind:       AuditWebhookOut,
		OldStatus:  provider.StatusPending,
		NewStatus:  provider.StatusPaid,
		Note:       "delivered",
		RawPayload: `{"event":"payment.success"}`,
		HTTPStatus: 200,
		LatencyMs:  31,
		CreatedAt:  at,
	}

	event := searchEvent(entry)

	assert.Equal(t, at, event.Timestamp)
	assert.Equal(t, "evt-1", event.EventID)
	assert.Equal(t, "clopay", event.Gateway)
	assert.Equal(t, "pay-9", event.PaymentID)
	assert.Equal(t, "webhook_out", event.Kind)
	assert.Equal(t, "PENDING", event.FromStatus)
	assert.Equal(t, "PAID", event.ToStatus)
	assert.Equal(t, "delivered", event.Detail)
	assert.Equal(t, `{"event":"payment.success"}`, event.Payload)
	assert.Equal(t, 200, event.HTTPStatus)
	assert.Equal(t, int64(31), event.LatencyMs)
}
