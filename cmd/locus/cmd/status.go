package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/locusmcp/locus/internal/engine"
	"github.com/locusmcp/locus/internal/meta"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index status and statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			exists, err := engine.Exists(projectDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !exists {
				fmt.Fprintln(out, "No index found. Run 'locus index' to create one.")
				return nil
			}

			e, err := engine.Open(cmd.Context(), projectDir)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			status := e.Status()
			styled := isatty.IsTerminal(os.Stdout.Fd())

			state := string(status.State)
			if styled {
				switch status.State {
				case meta.StatusComplete:
					state = okStyle.Render(state)
				case meta.StatusInProgress:
					state = warnStyle.Render(state)
				case meta.StatusFailed:
					state = errStyle.Render(state)
				}
			}

			row := func(label, value string) {
				if styled {
					label = labelStyle.Render(label)
				} else {
					label = fmt.Sprintf("%-16s", label)
				}
				fmt.Fprintf(out, "%s %s\n", label, value)
			}

			row("Project", e.ProjectPath())
			row("State", state)
			row("Files", fmt.Sprintf("%d", status.Stats.TotalFiles))
			row("Chunks", fmt.Sprintf("%d", status.Stats.TotalChunks))
			row("Size", fmt.Sprintf("%d bytes", status.Stats.StorageSizeBytes))
			if status.Stats.FailedEmbeddings > 0 {
				row("Failed embeds", fmt.Sprintf("%d", status.Stats.FailedEmbeddings))
			}
			if !status.LastUpdated.IsZero() {
				row("Last updated", status.LastUpdated.UTC().Format(time.RFC3339))
			}
			row("Watcher", fmt.Sprintf("%v", status.WatcherActive))
			if status.ErrorMessage != "" {
				row("Last error", status.ErrorMessage)
			}
			return nil
		},
	}
}
