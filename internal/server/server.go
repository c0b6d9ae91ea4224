// Package server exposes the orchestration core over HTTP: scan,
// convert, exclusion management, and the live event stream.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/harrison/umd/internal/config"
	"github.com/harrison/umd/internal/events"
	"github.com/harrison/umd/internal/exclusion"
	"github.com/harrison/umd/internal/history"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/runner"
	"github.com/harrison/umd/internal/scancache"
	"github.com/harrison/umd/internal/scanner"
	"github.com/harrison/umd/internal/state"
	"github.com/harrison/umd/internal/watcher"
)

// Server wires the orchestration components behind the HTTP API.
type Server struct {
	cfg        *config.Config
	log        logger.Logger
	scanner    *scanner.Scanner
	cache      *scancache.Cache
	exclusions *exclusion.Service
	store      *state.Store
	runner     *runner.Runner
	bus        *events.Bus
	history    *history.Store
	watcher    *watcher.Watcher
}

// Deps carries the component instances the server serves.
type Deps struct {
	Config     *config.Config
	Logger     logger.Logger
	Scanner    *scanner.Scanner
	Cache      *scancache.Cache
	Exclusions *exclusion.Service
	Store      *state.Store
	Runner     *runner.Runner
	Bus        *events.Bus
	History    *history.Store   // optional
	Watcher    *watcher.Watcher // optional
}

// New creates a Server over the given dependencies.
func New(deps Deps) *Server {
	return &Server{
		cfg:        deps.Config,
		log:        deps.Logger,
		scanner:    deps.Scanner,
		cache:      deps.Cache,
		exclusions: deps.Exclusions,
		store:      deps.Store,
		runner:     deps.Runner,
		bus:        deps.Bus,
		history:    deps.History,
		watcher:    deps.Watcher,
	}
}

// Router builds the chi router for the full API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "umd"})
	})

	r.Post("/scan", s.handleScan)
	r.Get("/scan/result", s.handleScanResult)
	r.Delete("/scan/cache", s.handleScanCacheDelete)

	r.Post("/convert", s.handleConvert)
	r.Get("/convert/status/{jobID}", s.handleConvertStatus)
	r.Get("/convert/logs/{jobID}/{fileIndex}", s.handleConvertLogs)
	r.Post("/convert/cancel/{jobID}", s.handleConvertCancel)
	r.Get("/convert/jobs", s.handleListJobs)
	r.Delete("/convert/jobs/{jobID}", s.handleDeleteJob)
	r.Get("/convert/history", s.handleHistory)

	r.Route("/exclusions", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleAddRule)
		r.Put("/{ruleID}", s.handleUpdateRule)
		r.Delete("/{ruleID}", s.handleDeleteRule)
	})

	r.Get("/events", s.handleEvents)
	r.Get("/files/preview", s.handlePreview)

	return r
}

// ListenAndServe serves the API until ctx is cancelled or the listener
// fails. On cancellation open connections get a short drain window.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(s.log, "listening on %s", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf(s.log, "encode response: %v", err)
	}
}

// writeError returns the structured error body used across the API.
// Validation failures are the caller's problem and are never logged as
// server errors.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	if status >= http.StatusInternalServerError {
		logger.Errorf(s.log, "request failed: %s", message)
	}
	s.writeJSON(w, status, map[string]string{"error": message})
}
