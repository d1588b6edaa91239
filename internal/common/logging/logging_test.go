package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
}

func TestZapLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	logger.Info("token refreshed", Field{"token_id", "abc123"})
	out := buf.String()
	assert.Contains(t, out, "token refreshed")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "INFO")
}

func TestZapLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: WarnLevel, Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestZapLoggerError(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	logger.Error("refresh failed", errors.New("connection refused"))
	assert.Contains(t, buf.String(), "connection refused")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	child := logger.WithFields(Field{"component", "scheduler"})
	child.Info("check complete")
	assert.Contains(t, buf.String(), "scheduler")
}

func TestGlobalDefault(t *testing.T) {
	SetGlobal(nil)
	assert.NotNil(t, Global())
}
