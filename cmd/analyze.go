package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"repomind/internal/analyzer"
)

var (
	flagBranch  string
	flagPath    string
	flagNoEmbed bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <repo-url>",
	Short: "Analyze and index a GitHub repository",
	Long: `Analyze walks the repository tree at the pinned branch head, fetches and
chunks its code files, extracts import relationships and entry points, and
indexes chunk embeddings in the local vector store.

The URL may be a full github.com address or a bare owner/repo pair.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := analyzer.New(cfg, logger)
		defer a.Close()

		fmt.Printf("Analyzing %s...\n", args[0])
		var lastStage string
		res, err := a.Analyze(cmd.Context(), args[0], analyzer.Options{
			Branch:  flagBranch,
			Path:    flagPath,
			NoEmbed: flagNoEmbed,
			Progress: func(stage string, done, total int) {
				if stage != lastStage {
					lastStage = stage
					fmt.Printf("  %s\n", stage)
				}
			},
		})
		if err != nil {
			return err
		}

		m := res.Manifest
		fmt.Printf("\nDone in %s\n", res.Stats.Duration.Round(time.Millisecond))
		fmt.Printf("  Repository: %s (%s @ %.7s)\n", m.FullName(), m.Branch, m.CommitSHA)
		fmt.Printf("  Files:      %d total, %d analyzed, %d skipped\n",
			m.TotalFiles, res.Stats.FilesFetched, res.Stats.FilesSkipped)
		fmt.Printf("  Chunks:     %d\n", res.Stats.Chunks)
		fmt.Printf("  Imports:    %d edges\n", res.Stats.Edges)
		if len(res.Patterns) > 0 {
			names := make([]string, 0, len(res.Patterns))
			for name := range res.Patterns {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Printf("  Patterns:   %s\n", strings.Join(names, ", "))
		}
		switch {
		case res.EmbeddingsGenerated:
			fmt.Printf("  Indexed:    %d points\n", res.Stats.Points)
		case flagNoEmbed:
			fmt.Println("  Indexing skipped (--no-embed)")
		default:
			fmt.Println("  Index unavailable; analysis completed without embeddings")
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&flagBranch, "branch", "", "branch to analyze (default: repository default branch)")
	analyzeCmd.Flags().StringVar(&flagPath, "path", "", "restrict analysis to a subdirectory")
	analyzeCmd.Flags().BoolVar(&flagNoEmbed, "no-embed", false, "skip embedding and indexing")
	analyzeCmd.Flags().Int("workers", 0, "parallel fetch workers")
	viper.BindPFlag("workers", analyzeCmd.Flags().Lookup("workers"))
	rootCmd.AddCommand(analyzeCmd)
}
