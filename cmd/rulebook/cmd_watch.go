package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rulebook/internal/logging"
	"rulebook/internal/registry"
	"rulebook/internal/store"
	"rulebook/internal/watch"
)

var watchExport bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild the registry whenever the corpus directory changes",
	Long: `Watches the corpus directory and rebuilds the registry after each burst of
changes. With --export (or watch.export in config) every successful rebuild is
also written to the SQLite store. Stops on SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchExport, "export", false, "Export to SQLite after each rebuild")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if cfg.Corpus.Dir == "" {
		return fmt.Errorf("watch needs a corpus directory (set corpus.dir or --dir)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// content_file bodies can have any extension, so the filter follows what the last load read
	var contentFiles watch.FileSet
	load := func(ctx context.Context) (*registry.Snapshot, error) {
		snap, modules, issues, err := buildSnapshotWithModules(ctx)
		if err != nil {
			return nil, err
		}
		for _, is := range issues {
			logging.Get(logging.CategoryWatch).Warn("%v", is)
		}
		contentFiles.Track(modules)
		return snap, nil
	}

	initial, err := load(ctx)
	if err != nil {
		return err
	}
	holder := registry.NewHolder(initial)

	opts := []watch.Option{watch.WithDebounce(cfg.GetDebounce()), watch.WithFilter(contentFiles.Filter(cfg.IsModuleFile))}

	out := cmd.OutOrStdout()
	opts = append(opts, watch.OnSwap(func(prev, next *registry.Snapshot, c registry.Changes) {
		fmt.Fprintf(out, "%s %d entries (+%d -%d ~%d), %d failures, %d conflicts\n",
			okStyle.Render("reloaded"), next.Registry.Len(), len(c.Added), len(c.Removed), len(c.Changed),
			len(next.Failures()), len(next.Conflicts()))
	}))

	if watchExport || cfg.Watch.Export {
		s, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		if _, err := s.Export(ctx, initial); err != nil {
			return err
		}
		opts = append(opts, watch.OnSwap(func(prev, next *registry.Snapshot, c registry.Changes) {
			if _, err := s.Export(ctx, next); err != nil {
				logging.Get(logging.CategoryWatch).Error("Export after reload failed: %v", err)
			}
		}))
	}

	w, err := watch.New(cfg.Corpus.Dir, holder, load, opts...)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()

	dirs := w.WatchedDirs()
	fmt.Fprintf(out, "watching %s (%d dirs, %d content files, %d entries); press Ctrl+C to stop\n",
		cfg.Corpus.Dir, len(dirs), contentFiles.Len(), initial.Registry.Len())
	if verbose {
		for _, d := range dirs {
			fmt.Fprintln(out, dimStyle.Render("  "+d))
		}
	}
	<-ctx.Done()
	return nil
}
