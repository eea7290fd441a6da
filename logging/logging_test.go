package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/warp/points-engine/logging"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, logging.ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, logging.ParseLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, logging.ParseLevel("Error"))
	assert.Equal(t, zapcore.InfoLevel, logging.ParseLevel("chatty"))
}

func TestNew_RespectsLevel(t *testing.T) {
	log := logging.New("warn", "json")

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}
