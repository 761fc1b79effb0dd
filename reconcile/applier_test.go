package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrelay/payrelay/provider"
)

func newTestApplier(store *memStore) *Applier {
	dispatcher := NewDispatcher(store, emptySettings{}, LogNotifier{}, time.Second)
	return NewApplier(store, dispatcher)
}

func seedPayment(t *testing.T, store *memStore, status provider.Status) *Payment {
	t.Helper()

	p := &Payment{
		ID:               "pay-1",
		MerchantID:       "m1",
		GatewayOrderNo:   "111111-222222",
		GatewayPaymentID: "gw-1",
		Gateway:          "fiatum",
		Amount:           50,
		Currency:         "EUR",
		Status:           status,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.CreatePayment(context.Background(), p))
	return p
}

func TestApply_GenuineTransition(t *testing.T) {
	store := newMemStore()
	applier := newTestApplier(store)
	seedPayment(t, store, provider.StatusPending)

	transitioned, err := applier.Apply(context.Background(), "pay-1", provider.StatusProcessing, Enrichment{}, "{}")
	require.NoError(t, err)
	assert.True(t, transitioned)

	p, err := store.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, provider.StatusProcessing, p.Status)
	assert.Equal(t, int64(1), p.Version)
	assert.Nil(t, p.PaidAt)
}

func TestApply_SameStatusIsNoOp(t *testing.T) {
	store := newMemStore()
	applier := newTestApplier(store)
	seedPayment(t, store, provider.StatusPending)

	transitioned, err := applier.Apply(context.Background(), "pay-1", provider.StatusPending, Enrichment{}, "{}")
	require.NoError(t, err)
	assert.False(t, transitioned)

	p, _ := store.GetPayment(context.Background(), "pay-1")
	assert.Equal(t, int64(0), p.Version)

	entries := store.auditsOfKind(AuditTransition)
	require.Len(t, entries, 1)
	assert.Equal(t, "status unchanged", entries[0].Note)
}

func TestApply_SameStatusStillPersistsEnrichment(t *testing.T) {
	store := newMemStore()
	applier := newTestApplier(store)
	seedPayment(t, store, provider.StatusPending)

	enrich := Enrichment{RemitterName: "Jane Doe", BankID: "sparkasse"}
	transitioned, err := applier.Apply(context.Background(), "pay-1", provider.StatusPending, enrich, "{}")
	require.NoError(t, err)
	assert.False(t, transitioned)

	p, _ := store.GetPayment(context.Background(), "pay-1")
	assert.Equal(t, "Jane Doe", p.RemitterName)
	assert.Equal(t, "sparkasse", p.BankID)
}

func TestApply_TerminalPaymentRejectsTransition(t *testing.T) {
	store := newMemStore()
	applier := newTestApplier(store)
	seedPayment(t, store, provider.StatusPaid)

	transitioned, err := applier.Apply(context.Background(), "pay-1", provider.StatusFailed, Enrichment{}, "{}")
	require.NoError(t, err)
	assert.False(t, transitioned)

	p, _ := store.GetPayment(context.Background(), "pay-1")
	assert.Equal(t, provider.StatusPaid, p.Status)

	anomalies := store.auditsOfKind(AuditAnomaly)
	require.Len(t, anomalies, 1)
	assert.Contains(t, anomalies[0].Note, "already terminal")
}

func TestApply_FirstPaidStampsPaidAtOnce(t *testing.T) {
	store := newMemStore()
	applier := newTestApplier(store)
	seedPayment(t, store, provider.StatusPending)

	transitioned, err := applier.Apply(context.Background(), "pay-1", provider.StatusPaid, Enrichment{}, "{}")
	require.NoError(t, err)
	assert.True(t, transitioned)

	p, _ := store.GetPayment(context.Background(), "pay-1")
	require.NotNil(t, p.PaidAt)
	firstPaidAt := *p.PaidAt

	// Replayed PAID webhook: same status, must not touch paidAt
	transitioned, err = applier.Apply(context.Background(), "pay-1", provider.StatusPaid, Enrichment{}, "{}")
	require.NoError(t, err)
	assert.False(t, transitioned)

	p, _ = store.GetPayment(context.Background(), "pay-1")
	require.NotNil(t, p.PaidAt)
	assert.Equal(t, firstPaidAt, *p.PaidAt)
}

func TestApply_DispatchedSnapshotMatchesStoredTimestamps(t *testing.T) {
	var received merchantPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newMemStore()
	settings := &fixedSettings{settings: MerchantSettings{
		WebhookURL: server.URL,
		Events:     []string{"payment.success"},
	}}
	applier := NewApplier(store, NewDispatcher(store, settings, LogNotifier{}, time.Second))
	seedPayment(t, store, provider.StatusPending)

	transitioned, err := applier.Apply(context.Background(), "pay-1", provider.StatusPaid, Enrichment{}, "{}")
	require.NoError(t, err)
	assert.True(t, transitioned)

	// The relayed snapshot and the persisted row carry one timestamp, not
	// two clock reads
	p, err := store.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	require.NotNil(t, p.PaidAt)
	assert.True(t, received.Payment.UpdatedAt.Equal(p.UpdatedAt))
	assert.True(t, p.PaidAt.Equal(p.UpdatedAt))
}

func TestApply_LostWriteRaceIsSilentNoOp(t *testing.T) {
	store := newMemStore()
	applier := newTestApplier(store)
	seedPayment(t, store, provider.StatusPending)

	store.transitionErr = ErrConflict

	transitioned, err := applier.Apply(context.Background(), "pay-1", provider.StatusPaid, Enrichment{}, "{}")
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestApply_DeregistersWatcherWhenLeavingPending(t *testing.T) {
	store := newMemStore()
	applier := newTestApplier(store)
	seedPayment(t, store, provider.StatusPending)

	dereg := &recordingDeregistrar{}
	applier.AttachWatcher(dereg)

	_, err := applier.Apply(context.Background(), "pay-1", provider.StatusPaid, Enrichment{}, "{}")
	require.NoError(t, err)
	assert.Equal(t, []string{"pay-1"}, dereg.ids)
}

func TestApply_UnknownPayment(t *testing.T) {
	store := newMemStore()
	applier := newTestApplier(store)

	_, err := applier.Apply(context.Background(), "missing", provider.StatusPaid, Enrichment{}, "{}")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

type recordingDeregistrar struct {
	ids []string
}

func (d *recordingDeregistrar) Deregister(paymentID string) {
	d.ids = append(d.ids, paymentID)
}
