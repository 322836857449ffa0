package registry

import (
	"errors"
	"strings"

	"rulebook/internal/logging"
	"rulebook/internal/rules"
)

// Aggregate flattens modules into one ordered sequence of validated entries,
// module order first, then entry order within each module. Candidates that
// fail validation are left out and reported; they never stop the run.
func Aggregate(modules []Module) ([]Located, []ValidationFailure) {
	log := logging.Get(logging.CategoryRegistry)

	total := 0
	for _, m := range modules {
		total += len(m.Candidates)
	}

	entries := make([]Located, 0, total)
	var failures []ValidationFailure

	for _, m := range modules {
		for i, c := range m.Candidates {
			ref := SourceRef{Module: m.ID, Source: m.Source, Index: i}

			entry, err := rules.Validate(c)
			if err != nil {
				var se *rules.SchemaError
				if !errors.As(err, &se) {
					se = &rules.SchemaError{Violations: []rules.FieldViolation{{Field: "entry", Reason: err.Error()}}}
				}
				f := ValidationFailure{Ref: ref, Slug: candidateSlug(c), Err: se}
				log.Warn("Dropping invalid entry %v", f)
				failures = append(failures, f)
				continue
			}
			entries = append(entries, Located{Entry: entry, Ref: ref})
		}
	}

	log.Debug("Aggregated %d/%d entries from %d modules", len(entries), total, len(modules))
	return entries, failures
}

func candidateSlug(c rules.Candidate) string {
	if c.Slug == nil {
		return ""
	}
	return strings.TrimSpace(*c.Slug)
}
