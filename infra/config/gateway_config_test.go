package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CRYPTOWAVE_API_KEY", "cw-key")
	t.Setenv("CRYPTOWAVE_BASE_URL", "https://api.cryptowave.example")
	t.Setenv("FIATUM_MERCHANT_ID", "fm-1")
	t.Setenv("FIATUM_SECRET_KEY", "fm-secret")

	cfg := NewGatewayConfig()
	cfg.LoadFromEnv()

	cw, err := cfg.GetConfig("cryptowave")
	require.NoError(t, err)
	assert.Equal(t, "cw-key", cw["apiKey"])
	assert.Equal(t, "https://api.cryptowave.example", cw["baseURL"])

	fi, err := cfg.GetConfig("fiatum")
	require.NoError(t, err)
	assert.Equal(t, "fm-1", fi["merchantId"])
	assert.Equal(t, "fm-secret", fi["secretKey"])
}

func TestGatewayConfig_EmptyValuesSkipped(t *testing.T) {
	t.Setenv("CLOPAY_API_KEY", "")

	cfg := NewGatewayConfig()
	cfg.LoadFromEnv()

	_, err := cfg.GetConfig("clopay")
	assert.Error(t, err)
}

func TestGatewayConfig_UnknownGateway(t *testing.T) {
	cfg := NewGatewayConfig()
	cfg.LoadFromEnv()

	_, err := cfg.GetConfig("nonexistent")
	assert.Error(t, err)
}

func TestGatewayConfig_GetConfigReturnsCopy(t *testing.T) {
	t.Setenv("PAYEERA_API_TOKEN", "tok-1")

	cfg := NewGatewayConfig()
	cfg.LoadFromEnv()

	first, err := cfg.GetConfig("payeera")
	require.NoError(t, err)
	first["apiToken"] = "mutated"

	second, err := cfg.GetConfig("payeera")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", second["apiToken"])
}

func TestGatewayConfig_GetAvailableGateways(t *testing.T) {
	t.Setenv("CRYPTOWAVE_API_KEY", "cw")
	t.Setenv("STRIPEGATE_API_KEY", "sk_test_1")

	cfg := NewGatewayConfig()
	cfg.LoadFromEnv()

	gateways := cfg.GetAvailableGateways()
	assert.Contains(t, gateways, "cryptowave")
	assert.Contains(t, gateways, "stripegate")
}

func TestEnvKeyToConfigKey(t *testing.T) {
	cases := map[string]string{
		"API_KEY":     "apiKey",
		"BASE_URL":    "baseURL",
		"MERCHANT_ID": "merchantId",
		"SECRET_KEY":  "secretKey",
		"TOKEN":       "token",
	}
	for in, want := range cases {
		assert.Equal(t, want, envKeyToConfigKey(in), in)
	}
}
