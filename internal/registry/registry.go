package registry

import (
	"iter"
	"slices"
	"strings"

	"rulebook/internal/rules"
)

// Registry is the read-only query surface over resolved entries.
// It is immutable after New and safe for concurrent readers.
type Registry struct {
	entries []rules.RuleEntry
	refs    []SourceRef
	bySlug  map[string]int
	byTag   map[string][]int
	byLib   map[string][]int
	byTagCI map[string][]int
}

// New indexes resolved entries. Slugs must already be unique; a repeated
// slug keeps its last occurrence in the slug index.
func New(resolved []Located) *Registry {
	r := &Registry{
		entries: make([]rules.RuleEntry, len(resolved)),
		refs:    make([]SourceRef, len(resolved)),
		bySlug:  make(map[string]int, len(resolved)),
		byTag:   make(map[string][]int),
		byLib:   make(map[string][]int),
		byTagCI: make(map[string][]int),
	}
	for i, loc := range resolved {
		e := loc.Entry.Clone()
		r.entries[i] = e
		r.refs[i] = loc.Ref
		r.bySlug[e.Slug] = i
		for _, t := range e.Tags {
			r.byTag[t] = append(r.byTag[t], i)
			key := strings.ToLower(t)
			if idx := r.byTagCI[key]; len(idx) == 0 || idx[len(idx)-1] != i {
				r.byTagCI[key] = append(idx, i)
			}
		}
		for _, l := range e.Libs {
			r.byLib[l] = append(r.byLib[l], i)
		}
	}
	return r
}

// GetBySlug returns the entry with the given slug, or a *NotFoundError
// wrapping ErrNotFound.
func (r *Registry) GetBySlug(slug string) (rules.RuleEntry, error) {
	e, ok := r.Lookup(slug)
	if !ok {
		return rules.RuleEntry{}, &NotFoundError{Slug: slug}
	}
	return e, nil
}

// Lookup is GetBySlug with a comma-ok result.
func (r *Registry) Lookup(slug string) (rules.RuleEntry, bool) {
	i, ok := r.bySlug[slug]
	if !ok {
		return rules.RuleEntry{}, false
	}
	return r.entries[i].Clone(), true
}

// SourceOf returns where the entry with slug was defined.
func (r *Registry) SourceOf(slug string) (SourceRef, bool) {
	i, ok := r.bySlug[slug]
	if !ok {
		return SourceRef{}, false
	}
	return r.refs[i], true
}

// ListByTag yields entries carrying tag, in registry order. Unknown tags yield nothing.
func (r *Registry) ListByTag(tag string) iter.Seq[rules.RuleEntry] {
	return r.seq(r.byTag[tag])
}

// ListByTagFold is ListByTag with case-insensitive matching.
func (r *Registry) ListByTagFold(tag string) iter.Seq[rules.RuleEntry] {
	return r.seq(r.byTagCI[strings.ToLower(tag)])
}

// ListByLib yields entries targeting lib, in registry order. Unknown libs yield nothing.
func (r *Registry) ListByLib(lib string) iter.Seq[rules.RuleEntry] {
	return r.seq(r.byLib[lib])
}

// All yields every entry in registry order.
func (r *Registry) All() iter.Seq[rules.RuleEntry] {
	return func(yield func(rules.RuleEntry) bool) {
		for _, e := range r.entries {
			if !yield(e.Clone()) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (r *Registry) Len() int { return len(r.entries) }

// Tags returns every distinct tag, sorted.
func (r *Registry) Tags() []string { return sortedKeys(r.byTag) }

// Libs returns every distinct lib, sorted.
func (r *Registry) Libs() []string { return sortedKeys(r.byLib) }

func (r *Registry) seq(idx []int) iter.Seq[rules.RuleEntry] {
	return func(yield func(rules.RuleEntry) bool) {
		for _, i := range idx {
			if !yield(r.entries[i].Clone()) {
				return
			}
		}
	}
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
