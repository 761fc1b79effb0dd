package cryptowave

import "github.com/payrelay/payrelay/provider"

// Register CryptoWave gateway with the provider registry
func init() {
	provider.Register("cryptowave", NewGateway)
}
