package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := New(Config{Level: level, OutputPaths: []string{"stdout"}})
		require.NoError(t, err, "level %s", level)
		require.NotNil(t, logger)
	}

	_, err := New(Config{Level: "bogus", OutputPaths: []string{"stdout"}})
	assert.Error(t, err)
}

func TestChildLoggersKeepWrapperType(t *testing.T) {
	base := NewNop()

	// Component and With chain on the wrapper type so children can be
	// passed anywhere a *Logger is expected.
	var child *Logger = base.Component("session").With(zap.String("terminal_id", "term_x"))
	require.NotNil(t, child)
	child.Info("still a wrapper")

	var grandchild *Logger = child.Component("bridge")
	require.NotNil(t, grandchild)
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	logger.Info("usable out of the box")
}
