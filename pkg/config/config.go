// Package config assembles the settings of a database instance from
// defaults, XMLSTORE_* environment variables and command-line overrides.
package config

import (
	"fmt"
	"maps"
	"strings"
	"time"
	"xmlstore/pkg/concurrency/lock"
	"xmlstore/pkg/concurrency/locktable"
	dberror "xmlstore/pkg/error"
	"xmlstore/pkg/logging"
	"xmlstore/pkg/storage/filelock"

	"github.com/mitchellh/mapstructure"
)

// EnvPrefix marks the environment variables read by FromEnv.
const EnvPrefix = "XMLSTORE_"

// DefaultLockFile is created inside the data directory.
const DefaultLockFile = "xmlstore.lck"

// Config holds everything needed to open a database.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LockFile string `mapstructure:"lock_file"`

	// PollPeriod bounds every lock wait.
	PollPeriod time.Duration `mapstructure:"poll_period"`
	// PurgeInterval is how often collected locks are dropped from the
	// lock registries.
	PurgeInterval time.Duration `mapstructure:"purge_interval"`

	FileLock  filelock.Options `mapstructure:"file_lock"`
	LockTable locktable.Config `mapstructure:"lock_table"`
	Log       logging.Config   `mapstructure:"log"`
}

// sections are the nested blocks of Config, as spelled in keys.
var sections = []string{"file_lock", "lock_table", "log"}

func Default() Config {
	return Config{
		DataDir:       "./data",
		LockFile:      DefaultLockFile,
		PollPeriod:    lock.DefaultPollPeriod,
		PurgeInterval: 30 * time.Second,
		FileLock: filelock.Options{
			StaleWindow:     filelock.DefaultStaleWindow,
			HeartbeatPeriod: filelock.DefaultHeartbeatPeriod,
		},
		LockTable: locktable.DefaultConfig(),
		Log: logging.Config{
			Level:  logging.LevelInfo,
			Format: "text",
		},
	}
}

// Decode applies settings on top of the defaults. Durations may be given as
// strings such as "5s", lists as comma-separated strings. Unknown keys are
// rejected.
func Decode(settings map[string]any) (Config, error) {
	cfg := Default()
	if settings == nil {
		settings = map[string]any{}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		ZeroFields:       true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(settings); err != nil {
		return Config{}, invalid(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load merges environment variables and overrides, overrides winning, and
// decodes the result.
func Load(environ []string, overrides map[string]any) (Config, error) {
	settings := FromEnv(environ)
	Merge(settings, overrides)
	return Decode(settings)
}

// FromEnv turns XMLSTORE_* variables into settings. XMLSTORE_POLL_PERIOD
// sets poll_period and XMLSTORE_LOCK_TABLE_TRACE sets lock_table.trace.
func FromEnv(environ []string) map[string]any {
	settings := map[string]any{}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		Set(settings, key, value)
	}
	return settings
}

// Set stores value under key, placing keys that start with a section name
// (either "log.level" or "log_level") inside that section.
func Set(settings map[string]any, key string, value any) {
	key = strings.ToLower(key)
	for _, section := range sections {
		for _, sep := range []string{".", "_"} {
			rest, ok := strings.CutPrefix(key, section+sep)
			if !ok {
				continue
			}
			nested, _ := settings[section].(map[string]any)
			if nested == nil {
				nested = map[string]any{}
				settings[section] = nested
			}
			nested[rest] = value
			return
		}
	}
	settings[key] = value
}

// Merge copies src into dst, descending into sections.
func Merge(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		existing, _ := dst[k].(map[string]any)
		if existing == nil {
			existing = map[string]any{}
			dst[k] = existing
		}
		maps.Copy(existing, sub)
	}
}

// Validate checks settings that would make the lock subsystem misbehave.
func (c Config) Validate() error {
	switch {
	case c.DataDir == "":
		return invalid(fmt.Errorf("data_dir must be set"))
	case c.LockFile == "":
		return invalid(fmt.Errorf("lock_file must be set"))
	case c.PollPeriod <= 0:
		return invalid(fmt.Errorf("poll_period must be positive, got %s", c.PollPeriod))
	case c.PurgeInterval <= 0:
		return invalid(fmt.Errorf("purge_interval must be positive, got %s", c.PurgeInterval))
	case c.FileLock.HeartbeatPeriod >= c.FileLock.StaleWindow:
		return invalid(fmt.Errorf("file_lock.heartbeat (%s) must be shorter than file_lock.stale_window (%s)",
			c.FileLock.HeartbeatPeriod, c.FileLock.StaleWindow))
	}
	return nil
}

func invalid(err error) *dberror.DBError {
	e := dberror.Wrap(err, dberror.CodeInvalidConfig, "Decode", "config")
	e.Category = dberror.ErrCategoryUser
	e.Hint = "check XMLSTORE_* variables and command-line flags"
	return e
}
