package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARN"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel(ErrorLevel))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		l, err := NewLogger(InfoLevel, format)
		require.NoError(t, err, format)
		l.Named("test").With().Info("hello")
	}
}

func TestOrGlobal(t *testing.T) {
	nop := NewNop()
	assert.Same(t, nop, OrGlobal(nop))

	SetGlobal(nop)
	defer SetGlobal(nil)
	assert.Same(t, nop, OrGlobal(nil))
	assert.Same(t, nop, Get())
}
