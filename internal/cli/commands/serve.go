package commands

import (
	"fmt"

	"github.com/leapstack-labs/qasmlens/internal/bridge"
	intconfig "github.com/leapstack-labs/qasmlens/internal/config"
	"github.com/leapstack-labs/qasmlens/internal/httpapi"
	"github.com/spf13/cobra"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Watch bool // Reload the module whenever its file changes
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis operations over HTTP",
		Long: `Start an HTTP API in front of the analysis module.

Endpoints:
  POST /api/format      {"source": "...", "unescape": false}
  POST /api/highlight   {"source": "..."}
  POST /api/lint        {"source": "..."}
  GET  /api/status      current module state
  GET  /api/events      module state changes (server-sent events)
  POST /api/reload      reload the module

A module that fails to load is reported by /api/status and can be
recovered with /api/reload.`,
		Example: `  # Serve on the default address
  qasmlens serve

  # Serve on another port and reload when the module is rebuilt
  qasmlens serve --addr 127.0.0.1:9000 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default :8787)")
	cmd.Flags().Int("marker-span", 0, "Width of each problem marker in characters")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Reload the module when its file changes")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	notifier := httpapi.NewNotifier()
	cmdCtx, cleanup, err := NewCommandContextUnloaded(cmd, bridge.WithStateObserver(notifier.Publish))
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer
	ctx := cmd.Context()

	var watchPath string
	if opts.Watch {
		if intconfig.IsURL(cfg.Module.Path) {
			return fmt.Errorf("--watch needs a local module, got %s", cfg.Module.Path)
		}
		watchPath = cfg.Module.Path
	}

	if err := cmdCtx.Module.Load(ctx); err != nil {
		r.Warning(fmt.Sprintf("analysis module failed to load: %v", err))
	}

	srv := httpapi.NewServer(httpapi.Config{
		Module:     cmdCtx.Module,
		Notifier:   notifier,
		Addr:       cfg.Serve.Addr,
		WatchPath:  watchPath,
		MarkerSpan: cfg.Analysis.MarkerSpan,
		Logger:     cmdCtx.Logger,
	})
	r.Success(fmt.Sprintf("serving %s on %s", cfg.Module.Path, cfg.Serve.Addr))
	return srv.Serve(ctx)
}
