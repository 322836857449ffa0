package registry

import "rulebook/internal/logging"

// Resolve removes duplicate slugs with last-write-wins: a later entry in the
// aggregated order replaces every earlier entry with the same slug. Each
// replaced entry yields exactly one ConflictRecord naming the final winner.
//
// The resolved slice keeps aggregated order with superseded entries removed,
// so a winner sits at its own position rather than the loser's.
func Resolve(entries []Located) ([]Located, []ConflictRecord) {
	latest := make(map[string]int, len(entries))
	superseded := make([]bool, len(entries))
	var replaced []int

	for i, loc := range entries {
		if prev, ok := latest[loc.Entry.Slug]; ok {
			superseded[prev] = true
			replaced = append(replaced, prev)
		}
		latest[loc.Entry.Slug] = i
	}

	var conflicts []ConflictRecord
	for _, idx := range replaced {
		loser := entries[idx]
		winner := entries[latest[loser.Entry.Slug]]
		conflicts = append(conflicts, ConflictRecord{
			Slug:             loser.Entry.Slug,
			Superseded:       loser.Ref,
			SupersededAuthor: loser.Entry.Author.Name,
			Winner:           winner.Ref,
			SameContent:      loser.Entry.ContentHash == winner.Entry.ContentHash,
		})
		logging.Get(logging.CategoryRegistry).Info("Conflict on %q: %s superseded by %s", loser.Entry.Slug, loser.Ref, winner.Ref)
	}

	resolved := make([]Located, 0, len(entries)-len(replaced))
	for i, loc := range entries {
		if !superseded[i] {
			resolved = append(resolved, loc)
		}
	}
	return resolved, conflicts
}
