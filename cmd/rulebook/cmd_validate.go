package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"rulebook/internal/corpus"
	"rulebook/internal/registry"
)

// errValidation signals a non-zero exit without repeating the report.
var errValidation = errors.New("validation failed")

var failOnConflict bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate all rule modules and report failures and conflicts",
	Long: `Loads every module, validates each entry and resolves duplicate slugs.
Exits non-zero when any entry or module file is invalid, and with
--fail-on-conflict also when a slug is defined more than once.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&failOnConflict, "fail-on-conflict", false, "Treat slug conflicts as errors")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	snap, issues, err := buildSnapshot(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failures, conflicts := snap.Failures(), snap.Conflicts()
	printIssues(out, issues)
	printFailures(out, failures)
	printConflicts(out, conflicts)

	fmt.Fprintf(out, "\n%d modules, %d entries, %d failures, %d conflicts\n",
		snap.Modules, snap.Registry.Len(), len(failures), len(conflicts))

	bad := len(failures) > 0 || hasErrors(issues) || (failOnConflict && len(conflicts) > 0)
	if bad {
		fmt.Fprintln(out, errorStyle.Render("FAIL"))
		return errValidation
	}
	fmt.Fprintln(out, okStyle.Render("OK"))
	return nil
}

func hasErrors(issues []corpus.LoadIssue) bool {
	for _, is := range issues {
		if is.Severity == corpus.SeverityError {
			return true
		}
	}
	return false
}

func printIssues(out io.Writer, issues []corpus.LoadIssue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintln(out, sectionStyle.Render("Module issues"))
	for _, is := range issues {
		style := warnStyle
		if is.Severity == corpus.SeverityError {
			style = errorStyle
		}
		fmt.Fprintf(out, "  %s %s\n", style.Render(string(is.Severity)), is.Error())
	}
}

func printFailures(out io.Writer, failures []registry.ValidationFailure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(out, sectionStyle.Render("Invalid entries"))
	for _, f := range failures {
		label := f.Ref.String()
		if f.Slug != "" {
			label += " " + slugStyle.Render(f.Slug)
		}
		fmt.Fprintf(out, "  %s %s\n", errorStyle.Render("✗"), label)
		for _, v := range f.Err.Violations {
			fmt.Fprintf(out, "      %s\n", v)
		}
	}
}

func printConflicts(out io.Writer, conflicts []registry.ConflictRecord) {
	if len(conflicts) == 0 {
		return
	}
	fmt.Fprintln(out, sectionStyle.Render("Conflicts"))
	for _, c := range conflicts {
		note := "diverging content"
		if c.SameContent {
			note = "identical content"
		}
		fmt.Fprintf(out, "  %s %s: %s (by %s) superseded by %s %s\n",
			warnStyle.Render("!"), slugStyle.Render(c.Slug), c.Superseded, c.SupersededAuthor, c.Winner,
			dimStyle.Render("("+note+")"))
	}
}
