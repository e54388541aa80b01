package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger(t *testing.T) {
	t.Helper()
	require.NoError(t, Close())
	t.Cleanup(func() { _ = Close() })
}

func TestInit_JSONFile(t *testing.T) {
	resetLogger(t)
	path := filepath.Join(t.TempDir(), "logs", "locks.log")

	require.NoError(t, Init(Config{Level: LevelDebug, OutputPath: path, Format: "json"}))
	WithLock("owner-7", "/db/apps").Info("lock taken over", "mode", "WRITE_LOCK")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "lock taken over", entry["msg"])
	assert.Equal(t, "owner-7", entry["owner"])
	assert.Equal(t, "/db/apps", entry["lock"])
	assert.Equal(t, "WRITE_LOCK", entry["mode"])
}

func TestInit_Twice(t *testing.T) {
	resetLogger(t)
	path := filepath.Join(t.TempDir(), "locks.log")

	require.NoError(t, Init(Config{Level: LevelInfo, OutputPath: path}))
	assert.Error(t, Init(Config{Level: LevelInfo, OutputPath: path}))

	require.NoError(t, Close())
	assert.NoError(t, Init(Config{Level: LevelInfo, OutputPath: path}))
}

func TestLevelFiltering(t *testing.T) {
	resetLogger(t)
	path := filepath.Join(t.TempDir(), "locks.log")

	require.NoError(t, Init(Config{Level: "warn", OutputPath: path}))
	Debug("hidden debug")
	Info("hidden info")
	Warn("stale lock file")
	Error("heartbeat failed")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "stale lock file")
	assert.Contains(t, out, "heartbeat failed")
}

func TestLogLevel_slogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.slogLevel())
	assert.Equal(t, slog.LevelWarn, LogLevel("Warn").slogLevel())
	assert.Equal(t, slog.LevelError, LevelError.slogLevel())
	assert.Equal(t, slog.LevelInfo, LogLevel("verbose").slogLevel())
}

func TestUseLogger(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	UseLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	WithComponent("locktable").Info("consumer started")
	WithOwner("owner-3").Info("releasing")
	WithFile("/data/xmlstore.lck").Info("heartbeat")
	WithError(errors.New("disk full")).Error("write failed")

	out := buf.String()
	assert.Contains(t, out, "component=locktable")
	assert.Contains(t, out, "owner=owner-3")
	assert.Contains(t, out, "file=/data/xmlstore.lck")
	assert.Contains(t, out, `error="disk full"`)

	UseLogger(nil)
	assert.NotNil(t, GetLogger())
}

func TestGetLogger_LazyDefault(t *testing.T) {
	resetLogger(t)
	l := GetLogger()
	require.NotNil(t, l)
	assert.Same(t, l, GetLogger())
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
}
