package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rulebook/internal/facts"
)

var factsPolicyFiles []string

var factsCmd = &cobra.Command{
	Use:   "facts [predicate]",
	Short: "Query the registry as Mangle facts",
	Long: `Exports the registry as Mangle facts (rule, rule_tag, rule_lib, rule_author,
rule_conflict, rule_failure), evaluates the built-in policy plus any --policy
files, and prints the facts for one predicate. Without a predicate, lists the
available predicates.`,
	Example: `  rulebook facts contested
  rulebook facts shares_lib
  rulebook facts --policy extra.mg aws_rule`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFacts,
}

func init() {
	factsCmd.Flags().StringSliceVar(&factsPolicyFiles, "policy", nil, "Additional Mangle policy file(s)")
}

func runFacts(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var extra []string
	for _, path := range factsPolicyFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy %s: %w", path, err)
		}
		extra = append(extra, string(data))
	}

	snap, _, err := buildSnapshot(ctx)
	if err != nil {
		return err
	}
	engine, err := facts.Load(snap, extra...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, p := range engine.Predicates() {
			fmt.Fprintln(out, p)
		}
		return nil
	}

	rows, err := engine.Query(args[0])
	if err != nil {
		return err
	}
	for _, row := range rows {
		quoted := make([]string, len(row))
		for i, v := range row {
			quoted[i] = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(out, "%s(%s).\n", args[0], strings.Join(quoted, ", "))
	}
	return nil
}
