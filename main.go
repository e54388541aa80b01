package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"xmlstore/pkg/config"
	"xmlstore/pkg/database"
	"xmlstore/pkg/debug/lockdump"
	"xmlstore/pkg/debug/lockmon"
	"xmlstore/pkg/logging"

	"github.com/charmbracelet/lipgloss"
)

type Configuration struct {
	Settings map[string]any
	Demo     bool
	Owners   int
	Duration time.Duration
	Dump     bool
	DumpAll  bool
	Plain    bool
	Monitor  bool
	NoSplash bool
}

func main() {
	opts := parseArguments()

	cfg, err := config.Load(os.Environ(), opts.Settings)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := logging.Init(cfg.Log); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	if !opts.NoSplash && !opts.Monitor {
		showSplashScreen()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		log.Fatalf("xmlstore: %v", err)
	}
}

// parseArguments processes command-line flags. Only flags given explicitly
// override environment settings.
func parseArguments() Configuration {
	var opts Configuration

	flag.String("data", "./data", "Data directory path")
	flag.String("poll", "200ms", "Upper bound on a single lock wait before re-checking")
	flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.String("log-format", "text", "Log format (text or json)")
	flag.String("log-path", "", "Log file path; empty logs to stderr")
	flag.Bool("trace", false, "Record call sites in the lock table")
	flag.Bool("no-locktable", false, "Disable the lock table")

	flag.BoolVar(&opts.Demo, "demo", false, "Run a demo workload of crossed collection and document locking")
	flag.IntVar(&opts.Owners, "owners", 8, "Concurrent owners in the demo workload")
	flag.DurationVar(&opts.Duration, "duration", 3*time.Second, "Length of the demo workload")
	flag.BoolVar(&opts.Dump, "dump", false, "Print a lock report before exiting")
	flag.BoolVar(&opts.DumpAll, "dump-all", false, "Include idle locks in the report")
	flag.BoolVar(&opts.Plain, "plain", false, "Print the report without colors")
	flag.BoolVar(&opts.Monitor, "monitor", false, "Watch lock events interactively")
	flag.BoolVar(&opts.NoSplash, "no-splash", false, "Skip the banner")

	flag.Parse()

	keys := map[string]string{
		"data":         "data_dir",
		"poll":         "poll_period",
		"log-level":    "log.level",
		"log-format":   "log.format",
		"log-path":     "log.path",
		"trace":        "lock_table.trace",
		"no-locktable": "lock_table.enabled",
	}
	opts.Settings = map[string]any{}
	flag.Visit(func(f *flag.Flag) {
		key, ok := keys[f.Name]
		if !ok {
			return
		}
		value := f.Value.String()
		if f.Name == "no-locktable" {
			value = fmt.Sprint(value != "true")
		}
		config.Set(opts.Settings, key, value)
	})

	return opts
}

// showSplashScreen displays the banner
func showSplashScreen() {
	splash := `
╔══════════════════════════════════════════════════════╗
║                                                      ║
║   ██╗  ██╗███╗   ███╗██╗     ███████╗████████╗       ║
║   ╚██╗██╔╝████╗ ████║██║     ██╔════╝╚══██╔══╝       ║
║    ╚███╔╝ ██╔████╔██║██║     ███████╗   ██║          ║
║    ██╔██╗ ██║╚██╔╝██║██║     ╚════██║   ██║          ║
║   ██╔╝ ██╗██║ ╚═╝ ██║███████╗███████║   ██║  store   ║
║   ╚═╝  ╚═╝╚═╝     ╚═╝╚══════╝╚══════╝   ╚═╝          ║
║                                                      ║
║          collection and document lock service        ║
╚══════════════════════════════════════════════════════╝
`

	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7C3AED")).
		Bold(true)

	fmt.Println(style.Render(splash))
}

func run(ctx context.Context, cfg config.Config, opts Configuration) error {
	fmt.Printf("🔧 Opening database in '%s'...\n", cfg.DataDir)
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}()

	if db.ReadOnly() {
		fmt.Println("⚠️  Lock file is held elsewhere or not writable; running read-only.")
	} else {
		fmt.Println("✅ Database opened.")
	}

	if opts.Monitor {
		wctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for wctx.Err() == nil {
				runWorkload(wctx, db, opts.Owners, opts.Duration)
			}
		}()
		err := lockmon.Run(ctx, db)
		cancel()
		<-done
		return err
	}

	if opts.Demo {
		fmt.Printf("\n🎮 Running %d owners for %s...\n", opts.Owners, opts.Duration)
		report := runWorkload(ctx, db, opts.Owners, opts.Duration)
		fmt.Println(report)
	}

	if opts.Dump {
		if err := db.LockTable().Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		printer := lockdump.Printer{Styled: !opts.Plain, All: opts.DumpAll}
		fmt.Println()
		return printer.Write(os.Stdout, db)
	}
	return nil
}

func (r workloadReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 %d operations, %d lock failures, %d deadlocks broken by failing a request",
		r.Operations, r.Failures, r.Deadlocks)
	if r.ReadOnlySkipped > 0 {
		fmt.Fprintf(&b, ", %d writes skipped (read-only)", r.ReadOnlySkipped)
	}
	return b.String()
}
