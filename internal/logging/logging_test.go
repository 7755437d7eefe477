package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLogLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLogLevel("info") })

	assert.NoError(t, SetLogLevel("debug"))
	assert.True(t, logLevel.Enabled(zapcore.DebugLevel))

	assert.NoError(t, SetLogLevel("WARN"))
	assert.False(t, logLevel.Enabled(zapcore.InfoLevel))
	assert.True(t, logLevel.Enabled(zapcore.WarnLevel))

	assert.Error(t, SetLogLevel("verbose"))
}

func TestNewAndDefault(t *testing.T) {
	assert.NotNil(t, New("app", "document", "doc_1"))
	assert.Same(t, DefaultLogger(), DefaultLogger())
	Nop().Infow("discarded", "k", "v")
}
