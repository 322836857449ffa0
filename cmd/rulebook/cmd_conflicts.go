package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"rulebook/internal/registry"
)

var conflictsJSON bool

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List slugs defined more than once and which definition won",
	Args:  cobra.NoArgs,
	RunE:  runConflicts,
}

func init() {
	conflictsCmd.Flags().BoolVar(&conflictsJSON, "json", false, "Output as JSON")
}

func runConflicts(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	snap, _, err := buildSnapshot(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	conflicts := snap.Conflicts()
	if conflictsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if conflicts == nil {
			conflicts = []registry.ConflictRecord{}
		}
		return enc.Encode(conflicts)
	}
	if len(conflicts) == 0 {
		fmt.Fprintln(out, okStyle.Render("no conflicts"))
		return nil
	}
	printConflicts(out, conflicts)
	return nil
}
