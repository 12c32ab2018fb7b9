package logger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWithNilConfigUsesDefaults(t *testing.T) {
	l, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNewLoggerJSONFormat(t *testing.T) {
	cfg := &Config{Level: InfoLevel, Format: "json", OutputPath: "stdout", ErrorPath: "stderr"}
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	cfg := &Config{Level: DebugLevel, Format: "console", OutputPath: "stdout", ErrorPath: "stderr"}
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNewLoggerRejectsInvalidOutputPath(t *testing.T) {
	cfg := &Config{Level: InfoLevel, Format: "json", OutputPath: "/nonexistent/dir/that/does/not/exist.log", ErrorPath: "stderr"}
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestGetEnvOrDefaultReturnsEnvWhenSet(t *testing.T) {
	t.Setenv("GMAILDISPATCH_TEST_VAR", "from-env")
	assert.Equal(t, "from-env", getEnvOrDefault("GMAILDISPATCH_TEST_VAR", "fallback"))
}

func TestGetEnvOrDefaultReturnsDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("GMAILDISPATCH_TEST_VAR_UNSET")
	assert.Equal(t, "fallback", getEnvOrDefault("GMAILDISPATCH_TEST_VAR_UNSET", "fallback"))
}
