package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGatewayRegistry_Register(t *testing.T) {
	registry := NewGatewayRegistry()

	mockFactory := func() Gateway { return nil }

	registry.Register("test-gateway", mockFactory)

	factory, err := registry.Get("test-gateway")
	assert.NoError(t, err)
	assert.NotNil(t, factory)
}

func TestGatewayRegistry_GetGatewayNames(t *testing.T) {
	registry := NewGatewayRegistry()

	names := registry.GetGatewayNames()
	assert.Empty(t, names)

	mockFactory := func() Gateway { return nil }
	registry.Register("gateway1", mockFactory)
	registry.Register("gateway2", mockFactory)

	names = registry.GetGatewayNames()
	assert.Len(t, names, 2)
	assert.Contains(t, names, "gateway1")
	assert.Contains(t, names, "gateway2")
}

func TestGatewayRegistry_Get_NotFound(t *testing.T) {
	registry := NewGatewayRegistry()

	factory, err := registry.Get("non-existent")
	assert.Error(t, err)
	assert.Nil(t, factory)
	assert.Contains(t, err.Error(), "is not registered")
}

func TestDefaultRegistry(t *testing.T) {
	mockFactory := func() Gateway { return nil }

	Register("default-test", mockFactory)

	factory, err := Get("default-test")
	assert.NoError(t, err)
	assert.NotNil(t, factory)
}

func TestGatewayRegistry_CreateGateway_NotFound(t *testing.T) {
	registry := NewGatewayRegistry()

	gw, err := registry.CreateGateway("missing")
	assert.Error(t, err)
	assert.Nil(t, gw)
}
