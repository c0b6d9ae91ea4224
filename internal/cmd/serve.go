package cmd

import (
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/umd/internal/history"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/server"
	"github.com/harrison/umd/internal/watcher"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Start the umd HTTP server. The API exposes directory scanning,
batch conversion with live progress over SSE, exclusion rule
management, and the conversion history.

The server runs until interrupted; on SIGINT/SIGTERM in-flight
converter processes are signalled and given a grace period.`,
		Args: cobra.NoArgs,
		RunE: serveCommand,
	}

	cmd.Flags().String("listen", "", "Listen address (overrides config, e.g. 127.0.0.1:8750)")
	cmd.Flags().Bool("no-watch", false, "Disable filesystem watching for cache invalidation")

	return cmd
}

func serveCommand(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		a.cfg.ListenAddr = listen
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		a.cfg.WatchEnabled = false
	}

	hist, err := history.NewStore(a.dataDir)
	if err != nil {
		return err
	}
	defer hist.Close()

	var fsWatcher *watcher.Watcher
	if a.cfg.WatchEnabled {
		fsWatcher, err = watcher.New(a.cache, a.bus, a.log)
		if err != nil {
			logger.Warnf(a.log, "filesystem watching disabled: %v", err)
		} else {
			defer fsWatcher.Close()
		}
	}

	srv := server.New(server.Deps{
		Config:     a.cfg,
		Logger:     a.log,
		Scanner:    a.scanner,
		Cache:      a.cache,
		Exclusions: a.exclusions,
		Store:      a.store,
		Runner:     a.runner,
		Bus:        a.bus,
		History:    hist,
		Watcher:    fsWatcher,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = srv.ListenAndServe(ctx)

	// Interrupt: stop accepting work, then give running converters
	// their termination grace period.
	a.runner.CancelAll()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Infof(a.log, "server stopped")
	return nil
}
