package main

import (
	"context"

	"rulebook/internal/corpus"
	"rulebook/internal/logging"
	"rulebook/internal/registry"
)

// buildSnapshot loads the configured corpus and builds a registry snapshot.
func buildSnapshot(ctx context.Context) (*registry.Snapshot, []corpus.LoadIssue, error) {
	snap, _, issues, err := buildSnapshotWithModules(ctx)
	return snap, issues, err
}

// buildSnapshotWithModules is buildSnapshot that also returns the loaded
// modules, for callers that need their file references.
func buildSnapshotWithModules(ctx context.Context) (*registry.Snapshot, []registry.Module, []corpus.LoadIssue, error) {
	modules, issues, err := corpus.Load(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	snap := registry.Build(modules)
	logging.Get(logging.CategoryCLI).Debug("Snapshot: %d modules, %d entries", snap.Modules, snap.Registry.Len())
	return snap, modules, issues, nil
}
