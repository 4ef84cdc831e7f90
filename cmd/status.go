package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"repomind/internal/analyzer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the index state and the last analysis",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a := analyzer.New(cfg, logger)
		defer a.Close()

		fmt.Printf("Database: %s\n", cfg.DBPath)
		if fi, err := os.Stat(cfg.DBPath); err == nil {
			fmt.Printf("Size:     %.1f MB\n", float64(fi.Size())/(1<<20))
		}

		last, err := a.LastAnalysis(ctx)
		if err != nil {
			return err
		}
		if last == nil {
			fmt.Println("\nNo repository analyzed yet.")
			return nil
		}

		fmt.Printf("\nRepository: %s (%s @ %.7s)\n", last.Repo, last.Branch, last.Commit)
		fmt.Printf("Analyzed:   %s (%s ago)\n",
			last.FinishedAt.Local().Format("2006-01-02 15:04"),
			time.Since(last.FinishedAt).Round(time.Minute))
		fmt.Printf("Files: %d   Chunks: %d   Points: %d", last.Files, last.Chunks, last.Points)
		if last.Model != "" {
			fmt.Printf("   Model: %s", last.Model)
		}
		fmt.Println()

		st := a.Store()
		if st == nil {
			return nil
		}
		infos, err := st.Collections(ctx)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COLLECTION\tDIMS\tPOINTS\tSTATUS\tLAST INDEXED")
		for _, info := range infos {
			indexed := "-"
			if !info.LastIndexed.IsZero() {
				indexed = info.LastIndexed.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
				info.Name, info.Dimensions, info.Points, info.Status, indexed)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
