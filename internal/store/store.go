// Package store exports resolved rule snapshots to SQLite so that search
// indexes and other tools can read the registry without loading YAML.
//
// Each Export replaces the previous contents in one transaction and records
// an export run. Two drivers are supported: "sqlite3" (mattn, cgo) and
// "sqlite" (modernc, pure Go).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"rulebook/internal/logging"
)

// ErrNoRuns is returned by LastRun when nothing has been exported yet.
var ErrNoRuns = errors.New("no export runs recorded")

// Store manages the rule export database.
type Store struct {
	db     *sql.DB
	path   string
	driver string
	mu     sync.Mutex // serializes exports
}

// Open creates or opens an export database. path may be ":memory:".
func Open(driver, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and matches SQLite's single writer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, driver: driver}
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Get(logging.CategoryStore).Debug("Opened %s database at %s", driver, path)
	return s, nil
}

func dsn(driver, path string) string {
	if path == ":memory:" {
		return path
	}
	switch driver {
	case "sqlite":
		return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	default:
		return path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// EnsureSchema creates the export tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS export_runs (
		run_id TEXT PRIMARY KEY,
		exported_at INTEGER NOT NULL, -- unix nanoseconds
		modules INTEGER NOT NULL,
		entries INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		conflicts INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rules (
		slug TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		author_name TEXT NOT NULL,
		author_url TEXT,
		author_avatar TEXT,
		module TEXT NOT NULL,
		source TEXT,
		entry_index INTEGER NOT NULL,
		run_id TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_position ON rules(position);
	CREATE INDEX IF NOT EXISTS idx_rules_author ON rules(author_name);

	CREATE TABLE IF NOT EXISTS rule_tags (
		slug TEXT NOT NULL,
		tag TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (slug, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_rule_tags_tag ON rule_tags(tag);

	CREATE TABLE IF NOT EXISTS rule_libs (
		slug TEXT NOT NULL,
		lib TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (slug, lib)
	);
	CREATE INDEX IF NOT EXISTS idx_rule_libs_lib ON rule_libs(lib);

	CREATE TABLE IF NOT EXISTS rule_conflicts (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		slug TEXT NOT NULL,
		superseded_module TEXT NOT NULL,
		superseded_source TEXT,
		superseded_index INTEGER NOT NULL,
		superseded_author TEXT,
		winner_module TEXT NOT NULL,
		winner_source TEXT,
		winner_index INTEGER NOT NULL,
		same_content INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS rule_failures (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		module TEXT NOT NULL,
		source TEXT,
		entry_index INTEGER NOT NULL,
		slug TEXT,
		violations_json TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// placeholders returns "?, ?, ..." for n columns.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
