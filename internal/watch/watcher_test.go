package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rulebook/internal/corpus"
	"rulebook/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const ruleYAML = `
- slug: %s
  title: A rule
  tags: [dbt]
  libs: [dbt-core]
  content: body
  author: {name: ann}
`

func writeRule(t *testing.T, path, slug string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(ruleYAML, slug)), 0644))
}

func dirLoader(dir string) LoadFunc {
	return func(ctx context.Context) (*registry.Snapshot, error) {
		modules, _, err := corpus.LoadDir(ctx, dir)
		if err != nil {
			return nil, err
		}
		return registry.Build(modules), nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, filepath.Join(dir, "a.yaml"), "first-rule")

	load := dirLoader(dir)
	initial, err := load(context.Background())
	require.NoError(t, err)
	holder := registry.NewHolder(initial)

	var swaps atomic.Int32
	w, err := New(dir, holder, load,
		WithDebounce(30*time.Millisecond),
		OnSwap(func(prev, next *registry.Snapshot, c registry.Changes) { swaps.Add(1) }))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.True(t, w.IsWatching())

	writeRule(t, filepath.Join(dir, "b.yaml"), "second-rule")

	waitFor(t, func() bool {
		_, ok := holder.Load().Registry.Lookup("second-rule")
		return ok
	})
	assert.GreaterOrEqual(t, swaps.Load(), int32(1))

	stats := w.GetStats()
	assert.GreaterOrEqual(t, stats.Reloads, 1)
	assert.Contains(t, stats.LastChanges.Added, "second-rule")
}

func TestReloadPicksUpNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, filepath.Join(dir, "a.yaml"), "first-rule")

	load := dirLoader(dir)
	initial, err := load(context.Background())
	require.NoError(t, err)
	holder := registry.NewHolder(initial)

	w, err := New(dir, holder, load, WithDebounce(30*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeRule(t, filepath.Join(dir, "nested", "b.yaml"), "nested-rule")

	waitFor(t, func() bool {
		_, ok := holder.Load().Registry.Lookup("nested-rule")
		return ok
	})
}

func TestFailedReloadKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	initial := registry.Build(nil)
	holder := registry.NewHolder(initial)

	w, err := New(dir, holder, func(context.Context) (*registry.Snapshot, error) {
		return nil, errors.New("disk on fire")
	})
	require.NoError(t, err)
	defer w.Stop()

	assert.False(t, w.Reload(context.Background()))
	assert.Same(t, initial, holder.Load())
	assert.Equal(t, 1, w.GetStats().FailedReloads)
}

func TestIgnoresNonModuleFiles(t *testing.T) {
	dir := t.TempDir()
	holder := registry.NewHolder(registry.Build(nil))

	var loads atomic.Int32
	w, err := New(dir, holder, func(context.Context) (*registry.Snapshot, error) {
		loads.Add(1)
		return registry.Build(nil), nil
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	time.Sleep(150 * time.Millisecond)
	w.Stop()

	assert.Equal(t, int32(0), loads.Load())
	assert.False(t, w.IsWatching())
}

func TestStopIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), registry.NewHolder(registry.Build(nil)), dirLoader(t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestContextCancelEndsLoop(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, registry.NewHolder(registry.Build(nil)), dirLoader(dir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not exit on cancel")
	}
	assert.False(t, w.IsWatching())
	assert.ErrorIs(t, w.Start(context.Background()), ErrStopped)
	w.Stop()
}

func TestReloadOnContentFileEdit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bodies"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bodies", "body.txt"), []byte("old body"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rule.yaml"), []byte(`
slug: file-backed
title: File backed
tags: [dbt]
libs: [dbt-core]
content_file: bodies/body.txt
author: {name: ann}
`), 0644))

	var files FileSet
	load := func(ctx context.Context) (*registry.Snapshot, error) {
		modules, _, err := corpus.LoadDir(ctx, dir)
		if err != nil {
			return nil, err
		}
		files.Track(modules)
		return registry.Build(modules), nil
	}
	initial, err := load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, files.Len())
	holder := registry.NewHolder(initial)

	yamlOnly := func(p string) bool { return filepath.Ext(p) == ".yaml" }
	w, err := New(dir, holder, load, WithDebounce(30*time.Millisecond), WithFilter(files.Filter(yamlOnly)))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.ElementsMatch(t, []string{dir, filepath.Join(dir, "bodies")}, w.WatchedDirs())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bodies", "body.txt"), []byte("new body"), 0644))

	waitFor(t, func() bool {
		e, ok := holder.Load().Registry.Lookup("file-backed")
		return ok && e.Content == "new body"
	})
	assert.Contains(t, w.GetStats().LastChanges.Changed, "file-backed")
}

func TestFileSet(t *testing.T) {
	var files FileSet
	assert.False(t, files.Contains("a/body.md"))
	assert.Equal(t, 0, files.Len())

	files.Track([]registry.Module{
		{ID: "a", ContentFiles: []string{"a/body.md", "a/./other.txt"}},
		{ID: "b"},
	})
	assert.True(t, files.Contains("a/body.md"))
	assert.True(t, files.Contains("a/other.txt"))
	assert.False(t, files.Contains("a/rule.yaml"))
	assert.Equal(t, 2, files.Len())

	filter := files.Filter(func(p string) bool { return filepath.Ext(p) == ".yaml" })
	assert.True(t, filter("a/rule.yaml"))
	assert.True(t, filter("a/body.md"))
	assert.False(t, filter("a/notes.txt"))

	files.Track(nil)
	assert.False(t, files.Contains("a/body.md"))
}
