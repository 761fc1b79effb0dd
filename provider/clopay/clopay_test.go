package clopay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrelay/payrelay/provider"
)

func sign(t *testing.T, key, data string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func newSignedGateway(t *testing.T) provider.Gateway {
	t.Helper()
	gw := NewGateway()
	require.NoError(t, gw.Initialize(map[string]string{"apiKey": "k1", "signKey": "sign-secret"}))
	return gw
}

func TestInitialize_RequiresBothKeys(t *testing.T) {
	gw := NewGateway()

	assert.Error(t, gw.Initialize(map[string]string{"apiKey": "k1"}))
	assert.Error(t, gw.Initialize(map[string]string{"signKey": "s1"}))
	assert.NoError(t, gw.Initialize(map[string]string{"apiKey": "k1", "signKey": "s1"}))
}

func TestNormalizeStatus_ThreeLetterCodes(t *testing.T) {
	gw := newSignedGateway(t)

	assert.Equal(t, provider.StatusPending, gw.NormalizeStatus("new"))
	assert.Equal(t, provider.StatusProcessing, gw.NormalizeStatus("pro"))
	assert.Equal(t, provider.StatusPaid, gw.NormalizeStatus("clo"))
	assert.Equal(t, provider.StatusPaid, gw.NormalizeStatus("CLO"))
	assert.Equal(t, provider.StatusExpired, gw.NormalizeStatus("exp"))
	assert.Equal(t, provider.StatusFailed, gw.NormalizeStatus("err"))
}

func TestNormalizeWebhook_ValidSignature(t *testing.T) {
	gw := newSignedGateway(t)

	data, err := gw.NormalizeWebhook(map[string]string{
		"checkout_id": "chk_9",
		"state":       "clo",
		"amount":      "15.00",
		"card_last4":  "4242",
		"method":      "card",
		"signature":   sign(t, "sign-secret", "chk_9|clo"),
	})
	require.NoError(t, err)

	assert.Equal(t, "chk_9", data.ExternalPaymentRef)
	assert.Equal(t, "clo", data.RawStatus)
	assert.Equal(t, 15.00, data.RawAmount)
	assert.Equal(t, "4242", data.RawDetails["card_last4"])
	assert.Equal(t, "card", data.RawDetails["payment_method"])
}

func TestNormalizeWebhook_InvalidSignature(t *testing.T) {
	gw := newSignedGateway(t)

	_, err := gw.NormalizeWebhook(map[string]string{
		"checkout_id": "chk_9",
		"state":       "clo",
		"signature":   sign(t, "wrong-secret", "chk_9|clo"),
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestNormalizeWebhook_MissingSignature(t *testing.T) {
	gw := newSignedGateway(t)

	// An unsigned payload must not reach the status machinery: dropping the
	// signature field is not a way around verification.
	_, err := gw.NormalizeWebhook(map[string]string{
		"checkout_id": "chk_9",
		"state":       "clo",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestNormalizeWebhook_MissingFields(t *testing.T) {
	gw := newSignedGateway(t)

	_, err := gw.NormalizeWebhook(map[string]string{"state": "clo"})
	assert.Error(t, err)

	_, err = gw.NormalizeWebhook(map[string]string{"checkout_id": "chk_9"})
	assert.Error(t, err)
}

func TestCheckStatus_Unsupported(t *testing.T) {
	gw := newSignedGateway(t)

	_, err := gw.CheckStatus(context.Background(), "chk_9")
	assert.ErrorIs(t, err, provider.ErrStatusCheckUnsupported)
}
