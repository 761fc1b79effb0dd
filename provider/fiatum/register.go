package fiatum

import "github.com/payrelay/payrelay/provider"

// Register Fiatum gateway with the provider registry
func init() {
	provider.Register("fiatum", NewGateway)
}
