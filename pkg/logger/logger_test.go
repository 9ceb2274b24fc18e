package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestNewWithOptions_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duelnet.log")
	l := NewWithOptions(Options{Level: "debug", Format: "console", File: path})

	l.Info("hello")
	_ = l.Sync()
	assert.FileExists(t, path)
}

func TestFromContext_AddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithPeer(WithRoom(context.Background(), "room-1"), "peer-9")
	FromContext(ctx, base).Info("negotiating")
	FromContext(context.Background(), base).Info("bare")

	entries := logs.All()
	assert.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "room-1", fields["room_id"])
	assert.Equal(t, "peer-9", fields["peer_id"])
	assert.Empty(t, entries[1].ContextMap())
}
