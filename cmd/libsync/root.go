package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/libsync/internal/arch"
	"github.com/BadgerOps/libsync/internal/config"
	"github.com/BadgerOps/libsync/internal/engine"
	"github.com/BadgerOps/libsync/internal/extract"
	"github.com/BadgerOps/libsync/internal/store"
)

var (
	// Global flags
	cfgPath   string
	dbPath    string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore *store.Store
)

// initializeComponents opens the store
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	path := globalCfg.Store.DBPath
	if path == "" {
		path = config.DefaultConfig().Store.DBPath
	}
	st, err := store.New(path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	logger.Debug("components initialized successfully", "db_path", path)
	return nil
}

// newCoordinator builds a coordinator over the global store with a fresh
// pool sized from the config.
func newCoordinator(opts engine.Options) (*engine.Coordinator, error) {
	if globalStore == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if opts.Arch == nil {
		tag, err := globalCfg.ArchOverride()
		if err != nil {
			return nil, err
		}
		opts.Arch = tag
	}
	if opts.ArchiveConcurrency == 0 {
		opts.ArchiveConcurrency = globalCfg.Sync.ArchiveConcurrency
	}
	pool := extract.NewPool(extract.NewExtractor(logger), globalCfg.Sync.Workers, logger)
	return engine.NewCoordinator(globalStore, pool, opts, logger), nil
}

// hostCapability reads the capability text of this host. An unreadable host
// yields empty text, which detects as ARM.
func hostCapability(ctx context.Context) string {
	text, err := arch.ReadCapability(ctx, arch.DefaultSources(globalCfg.Sync.CPUInfoPath)...)
	if err != nil {
		var unavailable *arch.UnavailableError
		if errors.As(err, &unavailable) {
			logger.Warn("host capability unavailable, defaulting to arm", "error", err)
		}
		return ""
	}
	return text
}

// archivesFromArgs returns the archives named on the command line, or the
// configured ones when none are given, as absolute paths. Run history and
// failed entries are keyed by these paths.
func archivesFromArgs(args []string) ([]string, error) {
	archives := args
	if len(archives) == 0 {
		archives = globalCfg.Sync.Archives
	}
	if len(archives) == 0 {
		return nil, fmt.Errorf("no archives given and none configured (sync.archives)")
	}
	abs := make([]string, 0, len(archives))
	for _, a := range archives {
		p, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("resolving archive path %s: %w", a, err)
		}
		abs = append(abs, p)
	}
	return abs, nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"show":    true,
		"set":     true,
		"arch":    true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "libsync",
		Short: "Incrementally extract native libraries from application archives",
		Long: `libsync extracts the native shared libraries that match this host's CPU
architecture from zip-format application archives into a library directory.

Each copied entry's archive timestamp is persisted, so later runs only copy
libraries that changed. Copies run concurrently and are written to a temporary
file first, so a library is never seen half written.`,
		Example: `  libsync sync /data/app/plugin.apk --dest /data/app/lib
  libsync sync --arch x86 --dry-run plugin.apk
  libsync status --failed
  libsync forget lib/armeabi/libfoo.so
  libsync watch /data/app/plugin.apk
  libsync arch`,
		Version:      "0.1.0",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if dbPath != "" {
				globalCfg.Store.DBPath = dbPath
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "db_path", globalCfg.Store.DBPath)
			}

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "override state database path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newSyncCmd(),
		newStatusCmd(),
		newForgetCmd(),
		newWatchCmd(),
		newArchCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
