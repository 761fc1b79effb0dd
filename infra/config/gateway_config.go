package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// knownGateways lists the gateway names environment scanning recognizes.
var knownGateways = []string{"cryptowave", "fiatum", "clopay", "payeera", "stripegate"}

// GatewayConfig holds per-gateway credentials loaded from the environment.
// CRYPTOWAVE_API_KEY=x becomes {"apiKey": "x"} under gateway "cryptowave".
type GatewayConfig struct {
	configs map[string]map[string]string
	mu      sync.RWMutex
}

// NewGatewayConfig creates an empty gateway configuration
func NewGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		configs: make(map[string]map[string]string),
	}
}

// LoadFromEnv scans the environment for gateway credential variables
func (c *GatewayConfig) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}

		for _, gateway := range knownGateways {
			prefix := strings.ToUpper(gateway) + "_"
			if !strings.HasPrefix(parts[0], prefix) {
				continue
			}

			key := envKeyToConfigKey(strings.TrimPrefix(parts[0], prefix))
			if c.configs[gateway] == nil {
				c.configs[gateway] = make(map[string]string)
			}
			c.configs[gateway][key] = parts[1]
		}
	}
}

// GetConfig returns configuration for a specific gateway
func (c *GatewayConfig) GetConfig(gateway string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conf, ok := c.configs[strings.ToLower(gateway)]
	if !ok {
		return nil, fmt.Errorf("no configuration found for gateway: %s", gateway)
	}

	out := make(map[string]string, len(conf))
	for k, v := range conf {
		out[k] = v
	}
	return out, nil
}

// GetAvailableGateways returns all gateways that have configurations
func (c *GatewayConfig) GetAvailableGateways() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	gateways := make([]string, 0, len(c.configs))
	for gateway := range c.configs {
		gateways = append(gateways, gateway)
	}
	return gateways
}

// envKeyToConfigKey converts API_KEY to apiKey
func envKeyToConfigKey(envKey string) string {
	parts := strings.Split(strings.ToLower(envKey), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		if parts[i] == "url" {
			parts[i] = "URL"
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}
