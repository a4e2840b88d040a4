package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/locusmcp/locus/internal/engine"
	"github.com/locusmcp/locus/internal/mcp"
	"github.com/locusmcp/locus/internal/store"
)

func newServeCmd() *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Starts the MCP server for the project directory. The filesystem
watcher keeps the index consistent while the server runs; an integrity
sweep at startup reconciles anything that changed while it was down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			e, err := engine.Open(ctx, projectDir)
			if err != nil {
				return err
			}
			defer func() {
				_ = e.Close()
				store.CloseAll()
			}()

			// Heal anything missed while the server was down, then keep
			// the index warm from watcher events.
			if err := e.IntegritySweep(ctx); err != nil {
				return err
			}
			if err := e.DrainDirty(ctx); err != nil {
				return err
			}
			if !noWatch {
				if err := e.StartWatcher(ctx); err != nil {
					return err
				}
			}

			server, err := mcp.NewServer(e)
			if err != nil {
				return err
			}
			return server.Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Disable the filesystem watcher")
	return cmd
}
