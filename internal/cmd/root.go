// Package cmd wires the umd command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/umd/internal/config"
	"github.com/harrison/umd/internal/events"
	"github.com/harrison/umd/internal/exclusion"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/runner"
	"github.com/harrison/umd/internal/scancache"
	"github.com/harrison/umd/internal/scanner"
	"github.com/harrison/umd/internal/state"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for umd
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "umd",
		Short: "Batch document-to-markdown conversion orchestrator",
		Long: `umd scans directory trees for convertible documents and images,
tracks which ones already have a markdown sidecar, and drives an
external converter over the rest with bounded concurrency.

State, exclusion rules, and the scan cache live under ~/.umd
(override with the UMD_HOME environment variable or --data-dir).`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("data-dir", "", "Data directory (default: $UMD_HOME or ~/.umd)")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewScanCommand())
	cmd.AddCommand(NewConvertCommand())

	return cmd
}

// app holds the wired core components shared by every subcommand.
type app struct {
	dataDir    string
	cfg        *config.Config
	log        logger.Logger
	exclusions *exclusion.Service
	scanner    *scanner.Scanner
	cache      *scancache.Cache
	store      *state.Store
	bus        *events.Bus
	runner     *runner.Runner
}

// newApp loads configuration and builds the component graph. Flags
// override config file settings.
func newApp(cmd *cobra.Command) (*app, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		var err error
		dataDir, err = config.GetDataDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data directory: %w", err)
		}
	} else if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	log := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)
	excl := exclusion.NewService(dataDir, log)
	store := state.NewStore(dataDir, log)
	bus := events.NewBus()

	invoker := &runner.Invoker{
		ConverterPath: cfg.ConverterPath,
		Args:          cfg.ConverterArgs,
		MaxFileSize:   cfg.MaxFileSizeBytes(),
		Logger:        log,
	}
	run := runner.NewRunner(invoker, store, bus, log)
	run.MaxFileSize = cfg.MaxFileSizeBytes()

	return &app{
		dataDir:    dataDir,
		cfg:        cfg,
		log:        log,
		exclusions: excl,
		scanner:    scanner.NewScanner(excl, log),
		cache:      scancache.New(dataDir, cfg.ScanCacheTTL, log),
		store:      store,
		bus:        bus,
		runner:     run,
	}, nil
}
