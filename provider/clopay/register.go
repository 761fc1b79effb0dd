package clopay

import "github.com/payrelay/payrelay/provider"

// Register ClioPay gateway with the provider registry
func init() {
	provider.Register("clopay", NewGateway)
}
