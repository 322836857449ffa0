package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rulebook/internal/logging"
	"rulebook/internal/registry"
	"rulebook/internal/rules"
)

// Run describes one export.
type Run struct {
	ID         string
	ExportedAt time.Time
	Modules    int
	Entries    int
	Failures   int
	Conflicts  int
}

// Export replaces the stored registry with snap and records the run.
func (s *Store) Export(ctx context.Context, snap *registry.Snapshot) (Run, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Export")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	run := Run{
		ID:         uuid.NewString(),
		ExportedAt: time.Now().UTC(),
		Modules:    snap.Modules,
		Entries:    snap.Registry.Len(),
		Failures:   len(snap.Failures()),
		Conflicts:  len(snap.Conflicts()),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"rules", "rule_tags", "rule_libs", "rule_conflicts", "rule_failures"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return Run{}, fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := insertRules(ctx, tx, snap.Registry, run.ID); err != nil {
		return Run{}, err
	}
	if err := insertConflicts(ctx, tx, snap.Conflicts(), run.ID); err != nil {
		return Run{}, err
	}
	if err := insertFailures(ctx, tx, snap.Failures(), run.ID); err != nil {
		return Run{}, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO export_runs (run_id, exported_at, modules, entries, failures, conflicts) VALUES (`+placeholders(6)+`)`,
		run.ID, run.ExportedAt.UnixNano(), run.Modules, run.Entries, run.Failures, run.Conflicts)
	if err != nil {
		return Run{}, fmt.Errorf("failed to record export run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("failed to commit export: %w", err)
	}

	logging.Get(logging.CategoryStore).Info("Exported %d rules (run %s) to %s", run.Entries, run.ID, s.path)
	return run, nil
}

func insertRules(ctx context.Context, tx *sql.Tx, reg *registry.Registry, runID string) error {
	ruleStmt, err := tx.PrepareContext(ctx, `INSERT INTO rules (
		slug, position, title, content, content_hash, token_count,
		author_name, author_url, author_avatar, module, source, entry_index, run_id
	) VALUES (`+placeholders(13)+`)`)
	if err != nil {
		return fmt.Errorf("failed to prepare rule insert: %w", err)
	}
	defer ruleStmt.Close()

	tagStmt, err := tx.PrepareContext(ctx, `INSERT INTO rule_tags (slug, tag, position) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare tag insert: %w", err)
	}
	defer tagStmt.Close()

	libStmt, err := tx.PrepareContext(ctx, `INSERT INTO rule_libs (slug, lib, position) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare lib insert: %w", err)
	}
	defer libStmt.Close()

	pos := 0
	for e := range reg.All() {
		ref, _ := reg.SourceOf(e.Slug)
		_, err := ruleStmt.ExecContext(ctx,
			e.Slug, pos, e.Title, e.Content, e.ContentHash, e.TokenCount,
			e.Author.Name, nullable(e.Author.URL), nullable(e.Author.Avatar),
			ref.Module, nullable(ref.Source), ref.Index, runID)
		if err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", e.Slug, err)
		}
		for i, tag := range e.Tags {
			if _, err := tagStmt.ExecContext(ctx, e.Slug, tag, i); err != nil {
				return fmt.Errorf("failed to insert tag %s for %s: %w", tag, e.Slug, err)
			}
		}
		for i, lib := range e.Libs {
			if _, err := libStmt.ExecContext(ctx, e.Slug, lib, i); err != nil {
				return fmt.Errorf("failed to insert lib %s for %s: %w", lib, e.Slug, err)
			}
		}
		pos++
	}
	return nil
}

func insertConflicts(ctx context.Context, tx *sql.Tx, conflicts []registry.ConflictRecord, runID string) error {
	for i, c := range conflicts {
		_, err := tx.ExecContext(ctx, `INSERT INTO rule_conflicts (
			run_id, seq, slug, superseded_module, superseded_source, superseded_index, superseded_author,
			winner_module, winner_source, winner_index, same_content
		) VALUES (`+placeholders(11)+`)`,
			runID, i, c.Slug, c.Superseded.Module, nullable(c.Superseded.Source), c.Superseded.Index, c.SupersededAuthor,
			c.Winner.Module, nullable(c.Winner.Source), c.Winner.Index, c.SameContent)
		if err != nil {
			return fmt.Errorf("failed to insert conflict for %s: %w", c.Slug, err)
		}
	}
	return nil
}

func insertFailures(ctx context.Context, tx *sql.Tx, failures []registry.ValidationFailure, runID string) error {
	for i, f := range failures {
		violations, err := json.Marshal(f.Err.Violations)
		if err != nil {
			return fmt.Errorf("failed to encode violations: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO rule_failures (
			run_id, seq, module, source, entry_index, slug, violations_json
		) VALUES (`+placeholders(7)+`)`,
			runID, i, f.Ref.Module, nullable(f.Ref.Source), f.Ref.Index, nullable(f.Slug), string(violations))
		if err != nil {
			return fmt.Errorf("failed to insert failure for %s: %w", f.Ref, err)
		}
	}
	return nil
}

// LoadRules reads the exported rules back in registry order.
func (s *Store) LoadRules(ctx context.Context) ([]rules.RuleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, title, content, content_hash, token_count, author_name,
		       COALESCE(author_url, ''), COALESCE(author_avatar, '')
		FROM rules ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var entries []rules.RuleEntry
	index := make(map[string]int)
	for rows.Next() {
		var e rules.RuleEntry
		if err := rows.Scan(&e.Slug, &e.Title, &e.Content, &e.ContentHash, &e.TokenCount,
			&e.Author.Name, &e.Author.URL, &e.Author.Avatar); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		index[e.Slug] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachSet(ctx, "SELECT slug, tag FROM rule_tags ORDER BY slug, position", func(i int, v string) {
		entries[i].Tags = append(entries[i].Tags, v)
	}, index); err != nil {
		return nil, err
	}
	if err := s.attachSet(ctx, "SELECT slug, lib FROM rule_libs ORDER BY slug, position", func(i int, v string) {
		entries[i].Libs = append(entries[i].Libs, v)
	}, index); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) attachSet(ctx context.Context, query string, add func(int, string), index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query %q: %w", query, err)
	}
	defer rows.Close()
	for rows.Next() {
		var slug, v string
		if err := rows.Scan(&slug, &v); err != nil {
			return err
		}
		if i, ok := index[slug]; ok {
			add(i, v)
		}
	}
	return rows.Err()
}

// SlugsByTag returns slugs carrying tag in registry order.
func (s *Store) SlugsByTag(ctx context.Context, tag string) ([]string, error) {
	return s.slugs(ctx, `
		SELECT r.slug FROM rules r JOIN rule_tags t ON t.slug = r.slug
		WHERE t.tag = ? ORDER BY r.position`, tag)
}

// SlugsByLib returns slugs targeting lib in registry order.
func (s *Store) SlugsByLib(ctx context.Context, lib string) ([]string, error) {
	return s.slugs(ctx, `
		SELECT r.slug FROM rules r JOIN rule_libs l ON l.slug = r.slug
		WHERE l.lib = ? ORDER BY r.position`, lib)
}

func (s *Store) slugs(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query slugs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

// Conflicts returns the conflicts recorded by the latest export.
func (s *Store) Conflicts(ctx context.Context) ([]registry.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, superseded_module, COALESCE(superseded_source, ''), superseded_index,
		       COALESCE(superseded_author, ''), winner_module, COALESCE(winner_source, ''),
		       winner_index, same_content
		FROM rule_conflicts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var out []registry.ConflictRecord
	for rows.Next() {
		var c registry.ConflictRecord
		if err := rows.Scan(&c.Slug, &c.Superseded.Module, &c.Superseded.Source, &c.Superseded.Index,
			&c.SupersededAuthor, &c.Winner.Module, &c.Winner.Source, &c.Winner.Index, &c.SameContent); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FailureCount returns how many validation failures the latest export recorded.
func (s *Store) FailureCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rule_failures").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return n, nil
}

// LastRun returns the most recent export run.
func (s *Store) LastRun(ctx context.Context) (Run, error) {
	var r Run
	var exportedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, exported_at, modules, entries, failures, conflicts
		FROM export_runs ORDER BY exported_at DESC, rowid DESC LIMIT 1`).
		Scan(&r.ID, &exportedAt, &r.Modules, &r.Entries, &r.Failures, &r.Conflicts)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRuns
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to read last run: %w", err)
	}
	r.ExportedAt = time.Unix(0, exportedAt).UTC()
	return r, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
