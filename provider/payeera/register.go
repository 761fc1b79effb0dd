package payeera

import "github.com/payrelay/payrelay/provider"

// Register Payeera gateway with the provider registry
func init() {
	provider.Register("payeera", NewGateway)
}
