package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, "info")
	require.NoError(t, err)
	logger.Info("hello")

	_, err = os.Stat(filepath.Join(dir, "moonlight.log"))
	assert.NoError(t, err)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New("", "loud")
	assert.Error(t, err)
}

func TestDurationCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := WithRequestID(context.Background(), "req-1")

	Duration(ctx, zap.New(core), "Flow")()

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Flow", fields["func"])
	assert.Equal(t, "req-1", fields["request_id"])
}
