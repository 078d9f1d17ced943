package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l)

	l, err = ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "conestoga.log")
	logger, closeFn, err := New(Options{Level: "warn", Format: "json", File: path})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("resolution aborted", zap.String("event_id", "evt-1"))
	closeFn()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"resolution aborted"`)
	assert.Contains(t, string(raw), `"event_id":"evt-1"`)
	assert.NotContains(t, string(raw), "hidden")
}

func TestNewWithoutOutputsIsNop(t *testing.T) {
	logger, closeFn, err := New(Options{})
	require.NoError(t, err)
	defer closeFn()
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel))
}

func TestNewRejectsBadFormat(t *testing.T) {
	_, _, err := New(Options{Format: "xml", Stderr: true})
	assert.Error(t, err)
}
