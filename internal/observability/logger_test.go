package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/dbbuilder/autoplaytest/internal/config"
)

// setupTestLogger initializes the global logger against a buffer. The logger
// is a global singleton, so each test resets it first.
func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	once = sync.Once{}
	globalLogger.Store(nil)

	buf := new(bytes.Buffer)
	initializeLogger(cfg, zapcore.AddSync(buf))
	return buf
}

func TestInitializeLogger(t *testing.T) {
	t.Run("console format emits readable lines", func(t *testing.T) {
		buf := setupTestLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "test-service",
		})

		GetLogger().Info("session captured")

		out := buf.String()
		assert.Contains(t, out, "session captured")
		assert.Contains(t, out, "test-service")
	})

	t.Run("json format emits structured records", func(t *testing.T) {
		buf := setupTestLogger(config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "test-service",
		})

		GetLogger().Warn("stale session evicted")

		var record map[string]interface{}
		line := strings.TrimSpace(buf.String())
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		assert.Equal(t, "WARN", record["level"])
		assert.Equal(t, "stale session evicted", record["msg"])
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		buf := setupTestLogger(config.LoggerConfig{
			Level:  "chatty",
			Format: "json",
		})

		GetLogger().Debug("should be suppressed")
		GetLogger().Info("should appear")

		out := buf.String()
		assert.NotContains(t, out, "should be suppressed")
		assert.Contains(t, out, "should appear")
	})
}

func TestGetLoggerFallback(t *testing.T) {
	once = sync.Once{}
	globalLogger.Store(nil)

	logger := GetLogger()
	require.NotNil(t, logger, "fallback logger must never be nil")
}
