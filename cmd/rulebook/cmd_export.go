package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rulebook/internal/store"
)

var (
	exportDB     string
	exportDriver string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the resolved registry to SQLite",
	Long: `Writes every resolved rule, with tags, libraries, conflicts and validation
failures, into a SQLite database. Each export replaces the previous contents
and is recorded as a run with a unique ID.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportDB, "db", "", "Database path (overrides config)")
	exportCmd.Flags().StringVar(&exportDriver, "driver", "", "sqlite3 or sqlite (overrides config)")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if exportDB != "" {
		cfg.Store.Path = exportDB
	}
	if exportDriver != "" {
		cfg.Store.Driver = exportDriver
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	snap, _, err := buildSnapshot(ctx)
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.Export(ctx, snap)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s exported %d rules to %s %s\n",
		okStyle.Render("✓"), run.Entries, s.Path(), dimStyle.Render("(run "+run.ID+")"))
	return nil
}
