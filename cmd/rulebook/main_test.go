package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulebook/internal/registry"
	"rulebook/internal/store"
)

// execute runs the root command with fresh flag state and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	verbose, noEmbedded = false, false
	corpusDir = ""
	failOnConflict = false
	listTag, listLib, listFold, listFacets = "", "", false, false
	showRaw, showWidth = false, 80
	conflictsJSON = false
	exportDB, exportDriver = "", ""
	factsPolicyFiles = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	base := []string{"--config", filepath.Join(t.TempDir(), "none.yaml")}
	rootCmd.SetArgs(append(base, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func corpusWith(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

const badModule = `
- slug: needs-content
  title: Missing content
  tags: [dbt]
  libs: [dbt-core]
  content: "   "
  author: {name: ann}
`

func TestValidateEmbeddedCorpus(t *testing.T) {
	out, err := execute(t, "validate", "--dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "dbt-redshift-cursor-rules")
	assert.Contains(t, out, "3 modules, 2 entries, 0 failures, 1 conflicts")
	assert.Contains(t, out, "OK")
}

func TestValidateReportsFailures(t *testing.T) {
	dir := corpusWith(t, map[string]string{"bad.yaml": badModule})

	out, err := execute(t, "validate", "--dir", dir)
	assert.True(t, errors.Is(err, errValidation))
	assert.Contains(t, out, "needs-content")
	assert.Contains(t, out, "content: empty")
	assert.Contains(t, out, "FAIL")
}

func TestValidateFailOnConflict(t *testing.T) {
	_, err := execute(t, "validate", "--dir", t.TempDir(), "--fail-on-conflict")
	assert.True(t, errors.Is(err, errValidation))

	_, err = execute(t, "validate", "--dir", t.TempDir(), "--no-embedded")
	assert.NoError(t, err)
}

func TestListFilters(t *testing.T) {
	out, err := execute(t, "list", "--dir", t.TempDir(), "--tag", "Redshift")
	require.NoError(t, err)
	assert.Contains(t, out, "dbt-redshift-cursor-rules")
	assert.NotContains(t, out, "dbt-core-cursor-rules")

	out, err = execute(t, "list", "--dir", t.TempDir(), "--tag", "sql", "--ignore-case")
	require.NoError(t, err)
	assert.Contains(t, out, "dbt-core-cursor-rules")
	assert.Contains(t, out, "dbt-redshift-cursor-rules")

	out, err = execute(t, "list", "--dir", t.TempDir(), "--lib", "nonexistent")
	require.NoError(t, err)
	assert.Contains(t, out, "no matching rules")

	out, err = execute(t, "list", "--dir", t.TempDir(), "--facets")
	require.NoError(t, err)
	assert.Contains(t, out, "dbt-core, dbt-redshift")
}

func TestShow(t *testing.T) {
	out, err := execute(t, "show", "--dir", t.TempDir(), "--raw", "dbt-core-cursor-rules")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "You are an expert in dbt Core"), "got %q", out[:min(len(out), 60)])

	out, err = execute(t, "show", "--dir", t.TempDir(), "dbt-redshift-cursor-rules")
	require.NoError(t, err)
	assert.Contains(t, out, "dbt Redshift Cursor Rules")
	assert.Contains(t, out, "warehouse/dbt-redshift[0]")

	_, err = execute(t, "show", "--dir", t.TempDir(), "no-such-rule")
	assert.True(t, registry.IsNotFound(err))
}

func TestConflictsJSON(t *testing.T) {
	out, err := execute(t, "conflicts", "--dir", t.TempDir(), "--json")
	require.NoError(t, err)

	var got []registry.ConflictRecord
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "warehouse/dbt-redshift", got[0].Winner.Module)

	out, err = execute(t, "conflicts", "--dir", t.TempDir(), "--no-embedded", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestExport(t *testing.T) {
	db := filepath.Join(t.TempDir(), "out", "rules.db")

	out, err := execute(t, "export", "--dir", t.TempDir(), "--db", db, "--driver", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "exported 2 rules")

	s, err := store.Open("sqlite", db)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dbt-core-cursor-rules", entries[0].Slug)
}

func TestFacts(t *testing.T) {
	out, err := execute(t, "facts", "--dir", t.TempDir(), "contested")
	require.NoError(t, err)
	assert.Equal(t, "contested(\"dbt-redshift-cursor-rules\").\n", out)

	policy := filepath.Join(t.TempDir(), "extra.mg")
	require.NoError(t, os.WriteFile(policy, []byte(`aws_rule(S) :- rule_tag(S, "AWS").`), 0644))
	out, err = execute(t, "facts", "--dir", t.TempDir(), "--policy", policy, "aws_rule")
	require.NoError(t, err)
	assert.Contains(t, out, "dbt-redshift-cursor-rules")

	out, err = execute(t, "facts", "--dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "shares_lib")
}

func TestWatchNeedsDir(t *testing.T) {
	_, err := execute(t, "watch", "--dir", "")
	assert.Error(t, err)
}

func TestInvalidLogLevelIsRejected(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "rulebook.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("logging:\n  level: loud\n"), 0644))

	_, err := execute(t, "--config", cfgFile, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid logging.level")
}
