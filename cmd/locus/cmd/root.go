// Package cmd provides the CLI commands for Locus.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/locusmcp/locus/internal/logging"
	"github.com/locusmcp/locus/pkg/version"
)

var (
	debugMode      bool
	projectDir     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the locus CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locus",
		Short: "Local-first semantic code search MCP server",
		Long: `Locus is a local-first semantic code search server. It indexes a
project tree into a local vector store and serves
similarity, path-glob, and status queries to AI assistants over a
stdio JSON-RPC (MCP) connection.

Run 'locus serve' from a project directory to start the server.`,
		Version:      version.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("locus version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVarP(&projectDir, "project", "C", ".", "Project directory to operate on")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(*cobra.Command, []string) error {
	level := "info"
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupDefault(level)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
