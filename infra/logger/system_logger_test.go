package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSystemLogger(t *testing.T) {
	config := SystemLoggerConfig{
		EnableConsole:    true,
		EnableOpenSearch: true,
		MinLevel:         LevelInfo,
		Service:          "test-service",
		Version:          "1.0.0",
		Environment:      "test",
	}

	logger := NewSystemLogger(nil, config)

	assert.NotNil(t, logger)
	assert.Equal(t, config.EnableConsole, logger.enableConsole)
	// OpenSearch stays disabled when no logger is provided
	assert.False(t, logger.enableOpenSearch)
	assert.Equal(t, config.MinLevel, logger.minLevel)
	assert.Equal(t, config.Service, logger.service)
	assert.Equal(t, config.Version, logger.version)
	assert.Equal(t, config.Environment, logger.environment)
}

func TestSystemLogger_LogLevels(t *testing.T) {
	config := SystemLoggerConfig{
		EnableConsole:    false, // Disable console to avoid output during tests
		EnableOpenSearch: false,
		MinLevel:         LevelDebug,
		Service:          "test-service",
		Version:          "1.0.0",
		Environment:      "test",
	}

	logger := NewSystemLogger(nil, config)

	// Test all log levels
	logger.Debug("Debug message")
	logger.Info("Info message")
	logger.Warn("Warning message")
	logger.Error("Error message", errors.New("test error"))

	// No assertions needed as we're just testing that methods don't panic
}

func TestSystemLogger_WithContext(t *testing.T) {
	config := SystemLoggerConfig{
		EnableConsole:    false,
		EnableOpenSearch: false,
		MinLevel:         LevelDebug,
		Service:          "test-service",
		Version:          "1.0.0",
		Environment:      "test",
	}

	logger := NewSystemLogger(nil, config)

	ctx := LogContext{
		Gateway:   "cryptowave",
		PaymentID: "pay-123",
		RequestID: "req-123",
		Fields:    map[string]any{"key": "value"},
	}

	logger.Debug("Debug with context", ctx)
	logger.Info("Info with context", ctx)
	logger.Warn("Warning with context", ctx)
	logger.Error("Error with context", errors.New("test error"), ctx)

	// No assertions needed as we're just testing that methods don't panic
}

func TestSystemLogger_MinLevelFiltering(t *testing.T) {
	config := SystemLoggerConfig{
		EnableConsole: false,
		MinLevel:      LevelWarn,
		Service:       "test-service",
		Version:       "1.0.0",
		Environment:   "test",
	}

	logger := NewSystemLogger(nil, config)

	assert.False(t, logger.shouldLog(LevelDebug))
	assert.False(t, logger.shouldLog(LevelInfo))
	assert.True(t, logger.shouldLog(LevelWarn))
	assert.True(t, logger.shouldLog(LevelError))
	assert.True(t, logger.shouldLog(LevelFatal))
}

func TestSystemLogger_ExtractComponent(t *testing.T) {
	logger := NewSystemLogger(nil, SystemLoggerConfig{})

	component := logger.extractComponent("/home/dev/payrelay/reconcile/applier.go")
	assert.Equal(t, "reconcile/applier.go", component)

	component = logger.extractComponent("some/other/path/handler.go")
	assert.Equal(t, "path", component)
}
