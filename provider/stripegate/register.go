package stripegate

import "github.com/payrelay/payrelay/provider"

// Register Stripe gateway with the provider registry
func init() {
	provider.Register("stripegate", NewGateway)
}
