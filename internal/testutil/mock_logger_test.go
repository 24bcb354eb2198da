package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jababu3/chemprop/internal/infrastructure/monitoring/logging"
	"github.com/jababu3/chemprop/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("test info", logging.String("key", "value"))

	messages := logger.GetMessages()
	assert.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	assert.Equal(t, "test info", messages[0].Message)

	logger.Clear()
	assert.Len(t, logger.GetMessages(), 0)

	logger.Error("test error")
	assert.True(t, logger.HasMessage("error", "test error"))
	assert.False(t, logger.HasMessage("info", "test info"))
}

func TestMockLogger_ChildrenShareSink(t *testing.T) {
	logger := testutil.NewMockLogger()
	child := logger.Named("encoding").With(logging.String("batch_id", "b-1")).Named("mpnn")

	child.Warn("slow", logging.Int("molecules", 4))

	msg, ok := logger.Find("warn", "slow")
	require.True(t, ok)
	assert.Equal(t, "encoding.mpnn", msg.Logger)
	v, ok := msg.Field("batch_id")
	require.True(t, ok)
	assert.Equal(t, "b-1", v)
	v, _ = msg.Field("molecules")
	assert.Equal(t, 4, v)
}

func TestMockLogger_ImplementsLogger(t *testing.T) {
	var _ logging.Logger = testutil.NewMockLogger()
}
