package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitGlobalLogger(t *testing.T) {
	// Reset global state for testing
	globalLogger = nil
	once = sync.Once{}

	InitGlobalLogger(nil)

	assert.NotNil(t, globalLogger)
	assert.Equal(t, "payrelay", globalLogger.service)
	assert.Equal(t, "1.0.0", globalLogger.version)
}

func TestGetGlobalLogger(t *testing.T) {
	// Reset global state for testing
	globalLogger = nil
	once = sync.Once{}

	// Getting the logger before initialization yields a console fallback
	logger := GetGlobalLogger()
	assert.NotNil(t, logger)
	assert.Equal(t, "payrelay", logger.service)
}

func TestGlobalLoggerConvenienceFunctions(t *testing.T) {
	// Reset global state for testing
	globalLogger = nil
	once = sync.Once{}

	InitGlobalLogger(nil)
	globalLogger.enableConsole = false

	Debug("Debug message")
	Info("Info message")
	Warn("Warning message")
	Error("Error message", nil)

	ctx := LogContext{Gateway: "fiatum"}
	Debug("Debug with context", ctx)
	Info("Info with context", ctx)
	Warn("Warning with context", ctx)
	Error("Error with context", nil, ctx)

	// No assertions needed as we're just testing that methods don't panic
}
