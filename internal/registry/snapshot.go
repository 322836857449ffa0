package registry

import (
	"slices"
	"sync/atomic"

	"rulebook/internal/logging"
	"rulebook/internal/rules"
)

// Snapshot is the complete result of one build: the registry plus the
// failures and conflicts found while producing it. Snapshots are immutable
// and shared by every reader of a Holder, so the reports are handed out as copies.
type Snapshot struct {
	Registry *Registry
	Modules  int

	failures  []ValidationFailure
	conflicts []ConflictRecord
}

// Build validates, aggregates and resolves modules synchronously.
func Build(modules []Module) *Snapshot {
	timer := logging.StartTimer(logging.CategoryRegistry, "Build")
	defer timer.Stop()

	entries, failures := Aggregate(modules)
	resolved, conflicts := Resolve(entries)

	logging.Get(logging.CategoryRegistry).Info(
		"Built registry: %d entries, %d failures, %d conflicts from %d modules",
		len(resolved), len(failures), len(conflicts), len(modules))

	return &Snapshot{
		Registry:  New(resolved),
		Modules:   len(modules),
		failures:  failures,
		conflicts: conflicts,
	}
}

// Failures returns a copy of the candidates dropped by validation, in load order.
func (s *Snapshot) Failures() []ValidationFailure {
	if s.failures == nil {
		return nil
	}
	out := make([]ValidationFailure, len(s.failures))
	for i, f := range s.failures {
		out[i] = f
		if f.Err != nil {
			out[i].Err = &rules.SchemaError{Violations: slices.Clone(f.Err.Violations)}
		}
	}
	return out
}

// Conflicts returns a copy of the superseded definitions, in load order.
func (s *Snapshot) Conflicts() []ConflictRecord {
	return slices.Clone(s.conflicts)
}

// Holder publishes the current snapshot to concurrent readers.
// Readers see either the old or the new snapshot, never a mix.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder returns a holder publishing initial.
func NewHolder(initial *Snapshot) *Holder {
	h := &Holder{}
	h.current.Store(initial)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Swap publishes next and returns the snapshot it replaced.
func (h *Holder) Swap(next *Snapshot) *Snapshot {
	return h.current.Swap(next)
}

// Changes summarizes slug-level differences between two registries.
type Changes struct {
	Added   []string
	Removed []string
	Changed []string // same slug, different content hash or metadata
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares two registries by slug. A nil old registry counts as empty.
func Diff(old, next *Registry) Changes {
	var c Changes
	if old == nil {
		old = New(nil)
	}
	for slug, i := range next.bySlug {
		j, ok := old.bySlug[slug]
		if !ok {
			c.Added = append(c.Added, slug)
			continue
		}
		a, b := old.entries[j], next.entries[i]
		if a.ContentHash != b.ContentHash || a.Title != b.Title ||
			!slices.Equal(a.Tags, b.Tags) || !slices.Equal(a.Libs, b.Libs) || a.Author != b.Author {
			c.Changed = append(c.Changed, slug)
		}
	}
	for slug := range old.bySlug {
		if _, ok := next.bySlug[slug]; !ok {
			c.Removed = append(c.Removed, slug)
		}
	}
	slices.Sort(c.Added)
	slices.Sort(c.Removed)
	slices.Sort(c.Changed)
	return c
}
