package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/locusmcp/locus/internal/engine"
	"github.com/locusmcp/locus/internal/pipeline"
)

func newIndexCmd() *cobra.Command {
	var confirm bool
	var file string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or refresh the project index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := engine.Open(ctx, projectDir)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if file != "" {
				return runIndexFile(ctx, cmd, e, file)
			}

			out := cmd.OutOrStdout()
			progress := func(p pipeline.Progress) {
				if p.Total > 0 {
					fmt.Fprintf(out, "\r%-10s %d/%d", p.Phase, p.Processed, p.Total)
				}
			}

			result, err := e.CreateIndex(ctx, confirm, progress)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\rIndexed %d files into %d chunks in %s\n",
				result.FilesIndexed, result.ChunksCreated, result.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "Proceed past the file-limit confirmation gate")
	cmd.Flags().StringVar(&file, "file", "", "Reindex a single file instead of the whole project")
	return cmd
}

func runIndexFile(ctx context.Context, cmd *cobra.Command, e *engine.Engine, rel string) error {
	result, err := e.ReindexFile(ctx, rel)
	if err != nil {
		return err
	}
	if result.Changed {
		fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %s (%d chunks)\n", result.Path, result.ChunksCreated)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", result.Path)
	}
	return nil
}
