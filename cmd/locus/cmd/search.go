package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/locusmcp/locus/internal/engine"
)

func newSearchCmd() *cobra.Command {
	var topK int
	var byPath bool
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index by similarity or by path glob",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			e, err := engine.Open(cmd.Context(), projectDir)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			out := cmd.OutOrStdout()
			if byPath {
				matches, err := e.SearchByPath(query, limit)
				if err != nil {
					return err
				}
				for _, m := range matches {
					fmt.Fprintln(out, m)
				}
				fmt.Fprintf(out, "%d matches\n", len(matches))
				return nil
			}

			hits, err := e.SearchCode(cmd.Context(), query, topK)
			if err != nil {
				return err
			}
			for _, h := range hits {
				fmt.Fprintf(out, "%s %s:%d-%d\n", formatScore(h.Score), h.Path, h.StartLine, h.EndLine)
				fmt.Fprintln(out, indent(snippet(h.Text), "    "))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top", 10, "Number of results (1-50)")
	cmd.Flags().BoolVar(&byPath, "path", false, "Treat the query as a path glob")
	cmd.Flags().IntVar(&limit, "limit", 20, "Path match limit (1-100)")
	return cmd
}

func formatScore(score float64) string {
	return fmt.Sprintf("[%.3f]", score)
}

// snippet trims a chunk to its first few lines for terminal output.
func snippet(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > 4 {
		lines = append(lines[:4], "…")
	}
	return strings.Join(lines, "\n")
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
