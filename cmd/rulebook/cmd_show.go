package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	showRaw   bool
	showWidth int
)

var showCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show one rule with its content",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "Print content exactly as stored")
	showCmd.Flags().IntVar(&showWidth, "width", 80, "Wrap width for rendered content")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	snap, _, err := buildSnapshot(ctx)
	if err != nil {
		return err
	}

	entry, err := snap.Registry.GetBySlug(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if showRaw {
		fmt.Fprint(out, entry.Content)
		return nil
	}

	ref, _ := snap.Registry.SourceOf(entry.Slug)
	fmt.Fprintln(out, titleStyle.Render(entry.Title))
	fmt.Fprintf(out, "%s  %s\n", slugStyle.Render(entry.Slug), dimStyle.Render("from "+ref.String()))
	fmt.Fprintf(out, "tags: %s\n", strings.Join(entry.Tags, ", "))
	fmt.Fprintf(out, "libs: %s\n", strings.Join(entry.Libs, ", "))
	author := entry.Author.Name
	if entry.Author.URL != "" {
		author += " <" + entry.Author.URL + ">"
	}
	fmt.Fprintf(out, "author: %s\n", author)
	fmt.Fprintf(out, "%s\n", dimStyle.Render(fmt.Sprintf("~%d tokens, sha256 %s", entry.TokenCount, entry.ContentHash[:12])))
	fmt.Fprintln(out, renderMarkdown(entry.Content, showWidth))
	return nil
}
