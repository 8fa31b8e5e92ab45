package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core))

	l.Warn("workspace", "cited note rejected", map[string]any{"highlight_id": "hl_1"})
	l.Error("store", "save failed", map[string]any{"error": errors.New("boom")})
	l.Info("app", "no details", nil)

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, "cited note rejected", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "workspace", ctx["module"])
	assert.Equal(t, map[string]any{"highlight_id": "hl_1"}, ctx["details"])

	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Equal(t, map[string]any{}, entries[2].ContextMap()["details"])
}

func TestNewWritesToFile(t *testing.T) {
	path := t.TempDir() + "/app.log"
	l := New(path, true)
	l.Info("test", "hello", nil)
	_ = l.Sync()
}
