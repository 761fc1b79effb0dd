package opensearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrelay/payrelay/infra/config"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.AppConfig
	}{
		{
			name: "valid_config_no_auth",
			cfg: &config.AppConfig{
				OpenSearchURL: "http://localhost:9200",
				EnableLogging: true,
			},
		},
		{
			name: "valid_config_with_auth",
			cfg: &config.AppConfig{
				OpenSearchURL:  "http://localhost:9200",
				EnableLogging:  true,
				OpenSearchUser: "admin",
				OpenSearchPass: "admin",
			},
		},
		{
			name: "logging_disabled",
			cfg: &config.AppConfig{
				OpenSearchURL: "http://localhost:9200",
				EnableLogging: false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if err != nil {
				t.Skipf("Skipping test due to OpenSearch connection error: %v", err)
			}

			assert.NotNil(t, client)
			assert.NotNil(t, client.client)
			assert.Equal(t, tt.cfg, client.config)
		})
	}
}

func TestClient_GetClient(t *testing.T) {
	cfg := &config.AppConfig{
		OpenSearchURL: "http://localhost:9200",
		EnableLogging: true,
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Skipf("Skipping test due to OpenSearch connection error: %v", err)
	}
	require.NotNil(t, client)

	assert.NotNil(t, client.GetClient())
}

func TestClient_GetAuditIndexName(t *testing.T) {
	cfg := &config.AppConfig{
		OpenSearchURL: "http://localhost:9200",
		EnableLogging: true,
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Skipf("Skipping test due to OpenSearch connection error: %v", err)
	}
	require.NotNil(t, client)

	tests := []struct {
		gateway  string
		expected string
	}{
		{"cryptowave", "payrelay-cryptowave-audit"},
		{"fiatum", "payrelay-fiatum-audit"},
		{"clopay", "payrelay-clopay-audit"},
		{"payeera", "payrelay-payeera-audit"},
		{"stripegate", "payrelay-stripegate-audit"},
		{"", "payrelay-audit"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, client.GetAuditIndexName(tt.gateway))
	}
}

func TestClient_IsEnabled(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
	}{
		{"logging_enabled", true},
		{"logging_disabled", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.AppConfig{
				OpenSearchURL: "http://localhost:9200",
				EnableLogging: tt.enabled,
			}

			client, err := NewClient(cfg)
			if err != nil {
				t.Skipf("Skipping test due to OpenSearch connection error: %v", err)
			}

			assert.Equal(t, tt.enabled, client.IsEnabled())
		})
	}
}
