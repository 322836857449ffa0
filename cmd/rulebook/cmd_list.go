package main

import (
	"fmt"
	"iter"
	"strings"

	"github.com/spf13/cobra"

	"rulebook/internal/rules"
)

var (
	listTag    string
	listLib    string
	listFold   bool
	listFacets bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules, optionally filtered by tag or library",
	Example: `  rulebook list
  rulebook list --tag dbt
  rulebook list --tag sql --ignore-case
  rulebook list --lib dbt-redshift
  rulebook list --facets`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listTag, "tag", "t", "", "Only rules with this tag")
	listCmd.Flags().StringVarP(&listLib, "lib", "l", "", "Only rules targeting this library")
	listCmd.Flags().BoolVarP(&listFold, "ignore-case", "i", false, "Match --tag case-insensitively")
	listCmd.Flags().BoolVar(&listFacets, "facets", false, "Print distinct tags and libraries instead of rules")
	listCmd.MarkFlagsMutuallyExclusive("tag", "lib")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	snap, _, err := buildSnapshot(ctx)
	if err != nil {
		return err
	}
	reg := snap.Registry
	out := cmd.OutOrStdout()

	if listFacets {
		fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Tags:"), strings.Join(reg.Tags(), ", "))
		fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Libs:"), strings.Join(reg.Libs(), ", "))
		return nil
	}

	var seq iter.Seq[rules.RuleEntry]
	switch {
	case listTag != "" && listFold:
		seq = reg.ListByTagFold(listTag)
	case listTag != "":
		seq = reg.ListByTag(listTag)
	case listLib != "":
		seq = reg.ListByLib(listLib)
	default:
		seq = reg.All()
	}

	n := 0
	for e := range seq {
		fmt.Fprintf(out, "%s  %s\n", slugStyle.Render(e.Slug), e.Title)
		fmt.Fprintf(out, "    %s\n", dimStyle.Render(fmt.Sprintf("tags: %s | libs: %s | by %s",
			strings.Join(e.Tags, ", "), strings.Join(e.Libs, ", "), e.Author.Name)))
		n++
	}
	if n == 0 {
		fmt.Fprintln(out, dimStyle.Render("no matching rules"))
	}
	return nil
}
