package config

import (
	"errors"
	"testing"
	"time"
	"xmlstore/pkg/concurrency/locktable"
	dberror "xmlstore/pkg/error"
	"xmlstore/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Defaults(t *testing.T) {
	cfg, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 200*time.Millisecond, cfg.PollPeriod)
	assert.Equal(t, 10100*time.Millisecond, cfg.FileLock.StaleWindow)
	assert.True(t, cfg.LockTable.Enabled)
	assert.Equal(t, locktable.DefaultIgnoredIDs, cfg.LockTable.IgnoredIDs)
}

func TestDecode_StringsAreConverted(t *testing.T) {
	cfg, err := Decode(map[string]any{
		"data_dir":    "/var/xmlstore",
		"poll_period": "50ms",
		"file_lock": map[string]any{
			"heartbeat":    "1s",
			"stale_window": "3s",
		},
		"lock_table": map[string]any{
			"enabled": "false",
			"trace":   "1",
			"ignore":  "dom.dbx,values.dbx",
		},
		"log": map[string]any{"level": "debug", "format": "json"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/var/xmlstore", cfg.DataDir)
	assert.Equal(t, 50*time.Millisecond, cfg.PollPeriod)
	assert.Equal(t, time.Second, cfg.FileLock.HeartbeatPeriod)
	assert.Equal(t, 3*time.Second, cfg.FileLock.StaleWindow)
	assert.False(t, cfg.LockTable.Enabled)
	assert.True(t, cfg.LockTable.TraceCallSites)
	assert.Equal(t, []string{"dom.dbx", "values.dbx"}, cfg.LockTable.IgnoredIDs)
	assert.Equal(t, logging.LogLevel("debug"), cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched settings keep their defaults.
	assert.Equal(t, DefaultLockFile, cfg.LockFile)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
	}{
		{"unknown key", map[string]any{"pol_period": "1s"}},
		{"bad duration", map[string]any{"poll_period": "soon"}},
		{"empty data dir", map[string]any{"data_dir": ""}},
		{"zero poll period", map[string]any{"poll_period": "0s"}},
		{"heartbeat outlasts window", map[string]any{
			"file_lock": map[string]any{"heartbeat": "20s"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.settings)
			require.Error(t, err)
			assert.True(t, errors.Is(err, dberror.ErrInvalidConfig), err.Error())
		})
	}
}

func TestFromEnv(t *testing.T) {
	settings := FromEnv([]string{
		"HOME=/root",
		"XMLSTORE_DATA_DIR=/tmp/db",
		"XMLSTORE_LOCK_TABLE_TRACE=true",
		"XMLSTORE_FILE_LOCK_STALE_WINDOW=20s",
		"XMLSTORE_LOG_LEVEL=warn",
		"XMLSTORE_LOCK_FILE=my.lck",
	})

	assert.Equal(t, map[string]any{
		"data_dir":   "/tmp/db",
		"lock_file":  "my.lck",
		"lock_table": map[string]any{"trace": "true"},
		"file_lock":  map[string]any{"stale_window": "20s"},
		"log":        map[string]any{"level": "warn"},
	}, settings)
}

func TestLoad_OverridesWin(t *testing.T) {
	overrides := map[string]any{}
	Set(overrides, "data_dir", "/from/flag")
	Set(overrides, "log.level", "error")

	cfg, err := Load([]string{
		"XMLSTORE_DATA_DIR=/from/env",
		"XMLSTORE_LOG_FORMAT=json",
	}, overrides)
	require.NoError(t, err)

	assert.Equal(t, "/from/flag", cfg.DataDir)
	assert.Equal(t, logging.LogLevel("error"), cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}
