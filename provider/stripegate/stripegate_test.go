package stripegate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrelay/payrelay/provider"
)

func TestInitialize_RequiresSecretKey(t *testing.T) {
	gw := NewGateway()

	assert.Error(t, gw.Initialize(map[string]string{}))
	assert.NoError(t, gw.Initialize(map[string]string{"secretKey": "sk_test_123"}))
}

func TestRequiresPolling(t *testing.T) {
	gw := NewGateway()
	assert.False(t, gw.RequiresPolling())
	assert.Equal(t, "stripegate", gw.Name())
}

func TestNormalizeStatus(t *testing.T) {
	gw := NewGateway()

	assert.Equal(t, provider.StatusPending, gw.NormalizeStatus("requires_payment_method"))
	assert.Equal(t, provider.StatusProcessing, gw.NormalizeStatus("requires_confirmation"))
	assert.Equal(t, provider.StatusProcessing, gw.NormalizeStatus("requires_action"))
	assert.Equal(t, provider.StatusProcessing, gw.NormalizeStatus("requires_capture"))
	assert.Equal(t, provider.StatusProcessing, gw.NormalizeStatus("processing"))
	assert.Equal(t, provider.StatusPaid, gw.NormalizeStatus("succeeded"))
	assert.Equal(t, provider.StatusFailed, gw.NormalizeStatus("canceled"))
	assert.Equal(t, provider.StatusPending, gw.NormalizeStatus("some_new_intent_state"))
}

func TestNormalizeWebhook_ExplicitStatus(t *testing.T) {
	gw := NewGateway()

	data, err := gw.NormalizeWebhook(map[string]string{
		"client_reference_id": "123456-654321",
		"status":              "succeeded",
	})
	require.NoError(t, err)
	assert.Equal(t, "123456-654321", data.ExternalPaymentRef)
	assert.Equal(t, "succeeded", data.RawStatus)
}

func TestNormalizeWebhook_StatusDerivedFromEventType(t *testing.T) {
	gw := NewGateway()

	tests := []struct {
		eventType string
		rawStatus string
	}{
		{"payment_intent.succeeded", "succeeded"},
		{"checkout.session.completed", "succeeded"},
		{"payment_intent.payment_failed", "canceled"},
		{"payment_intent.canceled", "canceled"},
		{"payment_intent.processing", "processing"},
	}

	for _, tt := range tests {
		data, err := gw.NormalizeWebhook(map[string]string{
			"payment_intent": "pi_123",
			"type":           tt.eventType,
		})
		require.NoError(t, err, tt.eventType)
		assert.Equal(t, tt.rawStatus, data.RawStatus, tt.eventType)
		assert.Equal(t, "pi_123", data.ExternalPaymentRef)
	}
}

func TestNormalizeWebhook_ReferenceFallbackChain(t *testing.T) {
	gw := NewGateway()

	data, err := gw.NormalizeWebhook(map[string]string{
		"id":     "evt_55",
		"status": "processing",
	})
	require.NoError(t, err)
	assert.Equal(t, "evt_55", data.ExternalPaymentRef)
}

func TestNormalizeWebhook_Rejections(t *testing.T) {
	gw := NewGateway()

	_, err := gw.NormalizeWebhook(map[string]string{"status": "succeeded"})
	assert.Error(t, err)

	_, err = gw.NormalizeWebhook(map[string]string{
		"payment_intent": "pi_123",
		"type":           "customer.created",
	})
	assert.Error(t, err)
}
