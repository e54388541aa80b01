// Package logging provides the process-wide structured logger for xmlstore.
//
// The package wraps [log/slog] and exposes a single global logger that is
// initialized once and then retrieved via GetLogger. The lock subsystem never
// builds its own slog.Logger; deadlock resolutions, protocol warnings, stale
// lock files and heartbeat failures all go through this package so level and
// destination are controlled from one place.
//
// # Initialisation
//
//	if err := logging.Init(logging.Config{Level: logging.LevelDebug, Format: "json"}); err != nil {
//	    log.Fatal(err)
//	}
//
// InitDefault writes INFO-level text logs to stderr.
//
// If GetLogger is called before Init, a default stderr logger is created
// lazily (via sync.Once) so packages that log during init are safe.
//
// # Context helpers
//
//	log := logging.WithLock(owner, "/db/system")  // adds owner and lock fields
//	log := logging.WithComponent("filelock")      // adds component field
package logging
