package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"repomind/internal/analyzer"
	"repomind/internal/store"
)

var flagK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed repository",
	Long: `Search classifies the query, embeds it, and runs one semantic search
against the matching collection. Use quotes for multi-word queries or just
pass the words as separate arguments.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		a := analyzer.New(cfg, logger)
		defer a.Close()

		results, err := a.Search(cmd.Context(), query, flagK)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return fmt.Errorf("no index available at %s\nRun 'repomind analyze <repo-url>' first", cfg.DBPath)
			}
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results above the score threshold.")
			return nil
		}

		fmt.Printf("Results for %q:\n\n", query)
		for i, r := range results {
			fmt.Printf("%2d. %.3f  %s", i+1, r.Score, describeHit(r))
			fmt.Println()
			if preview := firstLine(r.Payload.Content); preview != "" {
				fmt.Printf("           %s\n", preview)
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagK, "k", 0, "number of results (default from config)")
	rootCmd.AddCommand(searchCmd)
}

func describeHit(r store.SearchResult) string {
	var b strings.Builder
	if r.Payload.FilePath != "" {
		b.WriteString(r.Payload.FilePath)
	} else {
		b.WriteString(r.Payload.Name)
	}
	if r.Payload.ChunkType != "" {
		fmt.Fprintf(&b, " [%s]", r.Payload.ChunkType)
	}
	if r.Payload.Name != "" && r.Payload.FilePath != "" {
		fmt.Fprintf(&b, " %s", r.Payload.Name)
	}
	if r.Payload.StartLine > 0 {
		fmt.Fprintf(&b, " (lines %d-%d)", r.Payload.StartLine, r.Payload.EndLine)
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > 100 {
		return string(r[:100]) + "..."
	}
	return s
}
