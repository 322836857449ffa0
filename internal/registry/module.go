// Package registry turns ordered rule modules into an immutable, queryable
// rule registry.
//
// Building runs in three stages: Aggregate flattens modules and validates
// every candidate, Resolve applies last-write-wins by load order and reports
// each superseded definition, and New indexes the survivors. Build does all
// three and wraps the result in a Snapshot; Holder swaps snapshots atomically
// for hot reload.
package registry

import (
	"fmt"

	"rulebook/internal/rules"
)

// Module is one independently authored batch of rule candidates.
// Modules are consumed in the order given; later modules win conflicts.
type Module struct {
	ID         string // e.g. "core/dbt-core"
	Source     string // file path or "embedded:<path>"
	Candidates []rules.Candidate

	// ContentFiles lists the sources of content_file bodies referenced by the
	// module, in the same form as Source.
	ContentFiles []string
}

// SourceRef locates an entry: which module, and its position inside it.
type SourceRef struct {
	Module string `json:"module"`
	Source string `json:"source,omitempty"`
	Index  int    `json:"index"`
}

func (r SourceRef) String() string {
	return fmt.Sprintf("%s[%d]", r.Module, r.Index)
}

// Located pairs a validated entry with where it came from.
type Located struct {
	Entry rules.RuleEntry
	Ref   SourceRef
}

// ValidationFailure reports a candidate dropped by the validator.
type ValidationFailure struct {
	Ref  SourceRef
	Slug string // best-effort, empty when the slug itself was unusable
	Err  *rules.SchemaError
}

func (f ValidationFailure) Error() string {
	if f.Slug != "" {
		return fmt.Sprintf("%s (%s): %v", f.Ref, f.Slug, f.Err)
	}
	return fmt.Sprintf("%s: %v", f.Ref, f.Err)
}

func (f ValidationFailure) Unwrap() error { return f.Err }

// ConflictRecord reports one definition replaced by a later one with the same slug.
type ConflictRecord struct {
	Slug             string    `json:"slug"`
	Superseded       SourceRef `json:"superseded"`
	SupersededAuthor string    `json:"superseded_author"`
	Winner           SourceRef `json:"winner"`
	SameContent      bool      `json:"same_content"`
}

func (c ConflictRecord) String() string {
	return fmt.Sprintf("%s: %s (by %s) superseded by %s", c.Slug, c.Superseded, c.SupersededAuthor, c.Winner)
}
