package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/locusmcp/locus/internal/engine"
)

func newDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the project's index",
		Long: `Removes the project's index directory under the global storage root.
Requires --yes; without it the deletion is cancelled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(cmd.Context(), projectDir)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			var confirm *bool
			if yes {
				confirm = &yes
			}
			result, err := e.DeleteIndex(confirm)
			if err != nil {
				return err
			}
			if result.Deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted index for %s\n", result.ProjectPath)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}
