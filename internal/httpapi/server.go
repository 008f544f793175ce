// Package httpapi serves the analysis operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/watch"
)

// Module is the subset of the bridge the API needs.
type Module interface {
	Format(ctx context.Context, src string, unescape bool) (*analysis.FormatResult, error)
	Highlight(ctx context.Context, src string) (*analysis.HighlightResult, error)
	Lint(ctx context.Context, src string) (*analysis.LintResult, error)
	Reload(ctx context.Context) error
	State() bridge.Snapshot
}

// Config holds configuration for the API server.
type Config struct {
	Module   Module
	Notifier *Notifier
	Addr     string
	// WatchPath, when set, reloads the module whenever that file changes.
	WatchPath  string
	MarkerSpan int
	Logger     *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	module     Module
	notifier   *Notifier
	addr       string
	watchPath  string
	markerSpan int
	logger     *slog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	n := cfg.Notifier
	if n == nil {
		n = NewNotifier()
	}
	return &Server{
		module:     cfg.Module,
		notifier:   n,
		addr:       cfg.Addr,
		watchPath:  cfg.WatchPath,
		markerSpan: cfg.MarkerSpan,
		logger:     logger,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		requestID,
		s.logRequests,
		middleware.Recoverer,
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
		r.Post("/reload", s.handleReload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			r.Post("/format", s.handleFormat)
			r.Post("/highlight", s.handleHighlight)
			r.Post("/lint", s.handleLint)
		})
	})
	return r
}

// Serve starts the API server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting API server", "addr", ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Reload the module when its file changes
	if s.watchPath != "" {
		w, err := watch.New([]string{s.watchPath}, watch.WithLogger(s.logger))
		if err != nil {
			_ = ln.Close()
			return err
		}
		eg.Go(func() error {
			return w.Run(egctx, func(path string) {
				s.logger.Info("module changed, reloading", "file", path)
				if err := s.module.Reload(egctx); err != nil {
					s.logger.Error("reload failed", "error", err)
				}
			})
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
