package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/trailguard/audit-ledger/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("json format builds a production logger", func(t *testing.T) {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"})
		require.NoError(t, err)
		require.NotNil(t, logger)

		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("text format builds a console logger", func(t *testing.T) {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "debug", LogFormat: "text"})
		require.NoError(t, err)
		require.NotNil(t, logger)

		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("empty format defaults to json", func(t *testing.T) {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "warn"})
		require.NoError(t, err)
		require.NotNil(t, logger)

		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("invalid level is rejected", func(t *testing.T) {
		_, err := NewLogger(config.ObservabilityConfig{LogLevel: "loud", LogFormat: "json"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("invalid format is rejected", func(t *testing.T) {
		_, err := NewLogger(config.ObservabilityConfig{LogLevel: "info", LogFormat: "xml"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log format")
	})
}
