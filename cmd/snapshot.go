package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"repomind/internal/store"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [dir]",
	Short: "Write a backup snapshot of the index database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
			return fmt.Errorf("no index database at %s\nRun 'repomind analyze <repo-url>' first", cfg.DBPath)
		}

		dir := filepath.Join(cfg.DataDir, "snapshots")
		if len(args) > 0 {
			dir = args[0]
		}

		st, err := store.Open(cfg.DBPath, logger)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer st.Close()

		path, err := st.Snapshot(cmd.Context(), dir)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
