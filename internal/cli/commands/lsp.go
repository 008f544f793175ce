package commands

import (
	"os"

	"github.com/leapstack-labs/qasmlens/internal/cli/config"
	"github.com/leapstack-labs/qasmlens/internal/lsp"
	"github.com/spf13/cobra"
)

// NewLSPCommand creates the lsp command.
func NewLSPCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Start the Language Server Protocol server",
		Long: `Start the LSP server for editor integration.

The server communicates over stdin/stdout using JSON-RPC. The
analysis module is configured from qasmlens.yaml in the workspace
root sent with the client's initialize request, falling back to the
configuration this command was started with.`,
		Example: `  # Start LSP server (usually called by an editor)
  qasmlens lsp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLSP(cmd, version)
		},
	}

	return cmd
}

func runLSP(cmd *cobra.Command, version string) error {
	logger := config.GetLogger(cmd.Context())
	cfg := getConfig()
	server := lsp.NewServerWithLogger(os.Stdin, os.Stdout, logger,
		lsp.WithProjectConfig(&cfg.ProjectConfig),
		lsp.WithVersion(version),
	)
	return server.Run()
}
