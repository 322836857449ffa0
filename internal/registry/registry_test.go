package registry

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulebook/internal/rules"
)

func strp(s string) *string { return &s }

func cand(slug, author, content string, tags, libs []string) rules.Candidate {
	return rules.Candidate{
		Slug:    strp(slug),
		Title:   strp("Title of " + slug),
		Tags:    tags,
		Libs:    libs,
		Content: strp(content),
		Author:  &rules.CandidateAuthor{Name: strp(author)},
	}
}

func slugs(seq func(func(rules.RuleEntry) bool)) []string {
	var out []string
	for e := range seq {
		out = append(out, e.Slug)
	}
	return out
}

func TestDisjointModulesKeepOrder(t *testing.T) {
	modules := []Module{
		{ID: "a", Candidates: []rules.Candidate{
			cand("a-one", "ann", "x", []string{"dbt"}, []string{"dbt-core"}),
			cand("a-two", "ann", "y", []string{"SQL"}, []string{"dbt-core"}),
		}},
		{ID: "b", Candidates: []rules.Candidate{
			cand("b-one", "bob", "z", []string{"dbt"}, []string{"dbt-redshift"}),
		}},
	}

	snap := Build(modules)

	assert.Empty(t, snap.Failures())
	assert.Empty(t, snap.Conflicts())
	assert.Equal(t, []string{"a-one", "a-two", "b-one"}, slugs(snap.Registry.All()))
	for _, s := range []string{"a-one", "a-two", "b-one"} {
		e, err := snap.Registry.GetBySlug(s)
		require.NoError(t, err)
		assert.Equal(t, s, e.Slug)
	}
	assert.Equal(t, 2, snap.Modules)
	assert.Equal(t, 3, snap.Registry.Len())
}

func TestInvalidEntryIsReportedNotFatal(t *testing.T) {
	modules := []Module{
		{ID: "core/dbt", Source: "rules/core/dbt.yaml", Candidates: []rules.Candidate{
			cand("good-one", "ann", "x", []string{"dbt"}, []string{"dbt-core"}),
			cand("empty-content", "ann", "", []string{"dbt"}, []string{"dbt-core"}),
			cand("good-two", "ann", "y", []string{"dbt"}, []string{"dbt-core"}),
		}},
	}

	snap := Build(modules)

	require.Len(t, snap.Failures(), 1)
	f := snap.Failures()[0]
	assert.Equal(t, SourceRef{Module: "core/dbt", Source: "rules/core/dbt.yaml", Index: 1}, f.Ref)
	assert.Equal(t, "empty-content", f.Slug)
	assert.True(t, f.Err.Has("content"))

	var se *rules.SchemaError
	assert.True(t, errors.As(f, &se))

	assert.Equal(t, []string{"good-one", "good-two"}, slugs(snap.Registry.All()))
	_, err := snap.Registry.GetBySlug("empty-content")
	assert.True(t, IsNotFound(err))
}

func TestSharedSlugLaterModuleWins(t *testing.T) {
	modules := []Module{
		{ID: "core/dbt-redshift", Candidates: []rules.Candidate{
			cand("dbt-redshift-cursor-rules", "juanjodevio", "old text", []string{"dbt", "Redshift"}, []string{"dbt-redshift"}),
		}},
		{ID: "warehouse/dbt-redshift", Candidates: []rules.Candidate{
			cand("dbt-redshift-cursor-rules", "juanjodevio", "new text", []string{"dbt", "Redshift", "AWS"}, []string{"dbt-redshift"}),
		}},
	}

	snap := Build(modules)

	e, err := snap.Registry.GetBySlug("dbt-redshift-cursor-rules")
	require.NoError(t, err)
	assert.Equal(t, "new text", e.Content)
	assert.Equal(t, 1, snap.Registry.Len())

	want := []ConflictRecord{{
		Slug:             "dbt-redshift-cursor-rules",
		Superseded:       SourceRef{Module: "core/dbt-redshift", Index: 0},
		SupersededAuthor: "juanjodevio",
		Winner:           SourceRef{Module: "warehouse/dbt-redshift", Index: 0},
		SameContent:      false,
	}}
	if diff := cmp.Diff(want, snap.Conflicts()); diff != "" {
		t.Errorf("conflicts mismatch (-want +got):\n%s", diff)
	}
	ref, ok := snap.Registry.SourceOf("dbt-redshift-cursor-rules")
	require.True(t, ok)
	assert.Equal(t, "warehouse/dbt-redshift", ref.Module)
}

func TestRepeatedSlugRecordsEveryLoserAgainstFinalWinner(t *testing.T) {
	modules := []Module{
		{ID: "a", Candidates: []rules.Candidate{cand("dup", "ann", "1", []string{"t"}, []string{"l"})}},
		{ID: "b", Candidates: []rules.Candidate{
			cand("other", "bob", "o", []string{"t"}, []string{"l"}),
			cand("dup", "bob", "2", []string{"t"}, []string{"l"}),
		}},
		{ID: "c", Candidates: []rules.Candidate{cand("dup", "cat", "2", []string{"t"}, []string{"l"})}},
	}

	snap := Build(modules)

	require.Len(t, snap.Conflicts(), 2)
	assert.Equal(t, "a", snap.Conflicts()[0].Superseded.Module)
	assert.Equal(t, "ann", snap.Conflicts()[0].SupersededAuthor)
	assert.Equal(t, "b", snap.Conflicts()[1].Superseded.Module)
	assert.True(t, snap.Conflicts()[1].SameContent)
	for _, c := range snap.Conflicts() {
		assert.Equal(t, SourceRef{Module: "c", Index: 0}, c.Winner)
	}

	// winner sits at its own position
	assert.Equal(t, []string{"other", "dup"}, slugs(snap.Registry.All()))
}

func TestDuplicateWithinOneModule(t *testing.T) {
	modules := []Module{{ID: "m", Candidates: []rules.Candidate{
		cand("same", "ann", "first", []string{"t"}, []string{"l"}),
		cand("same", "ann", "second", []string{"t"}, []string{"l"}),
	}}}

	snap := Build(modules)

	require.Len(t, snap.Conflicts(), 1)
	assert.Equal(t, 0, snap.Conflicts()[0].Superseded.Index)
	assert.Equal(t, 1, snap.Conflicts()[0].Winner.Index)
	e, err := snap.Registry.GetBySlug("same")
	require.NoError(t, err)
	assert.Equal(t, "second", e.Content)
}

func TestBuildIsIdempotent(t *testing.T) {
	modules := []Module{
		{ID: "a", Candidates: []rules.Candidate{
			cand("x", "ann", "1", []string{"dbt"}, []string{"dbt-core"}),
			cand("bad", "ann", " ", []string{"dbt"}, []string{"dbt-core"}),
		}},
		{ID: "b", Candidates: []rules.Candidate{cand("x", "bob", "2", []string{"dbt"}, []string{"dbt-core"})}},
	}

	first, second := Build(modules), Build(modules)

	if diff := cmp.Diff(slices.Collect(first.Registry.All()), slices.Collect(second.Registry.All())); diff != "" {
		t.Errorf("entries differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Failures(), second.Failures()); diff != "" {
		t.Errorf("failures differ:\n%s", diff)
	}
	if diff := cmp.Diff(first.Conflicts(), second.Conflicts()); diff != "" {
		t.Errorf("conflicts differ:\n%s", diff)
	}
	assert.True(t, Diff(first.Registry, second.Registry).Empty())
}

func TestListByTagAndLib(t *testing.T) {
	snap := Build([]Module{{ID: "m", Candidates: []rules.Candidate{
		cand("core", "ann", "1", []string{"dbt", "SQL"}, []string{"dbt-core"}),
		cand("redshift", "ann", "2", []string{"dbt", "Redshift", "AWS"}, []string{"dbt-redshift"}),
		cand("plain", "ann", "3", []string{"sql"}, []string{"sqlfluff"}),
	}}})
	r := snap.Registry

	assert.Equal(t, []string{"core", "redshift"}, slugs(r.ListByTag("dbt")))
	assert.Equal(t, []string{"redshift"}, slugs(r.ListByLib("dbt-redshift")))
	assert.Equal(t, []string{"core"}, slugs(r.ListByTag("SQL")))
	assert.Equal(t, []string{"core", "plain"}, slugs(r.ListByTagFold("Sql")))

	assert.Empty(t, slugs(r.ListByTag("nonexistent")))
	assert.Empty(t, slugs(r.ListByLib("nonexistent")))

	assert.Equal(t, []string{"AWS", "Redshift", "SQL", "dbt", "sql"}, r.Tags())
	assert.Equal(t, []string{"dbt-core", "dbt-redshift", "sqlfluff"}, r.Libs())
}

func TestSequencesStopEarly(t *testing.T) {
	snap := Build([]Module{{ID: "m", Candidates: []rules.Candidate{
		cand("one", "ann", "1", []string{"t"}, []string{"l"}),
		cand("two", "ann", "2", []string{"t"}, []string{"l"}),
	}}})

	count := 0
	for range snap.Registry.ListByTag("t") {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestGetBySlugNotFound(t *testing.T) {
	r := New(nil)

	_, err := r.GetBySlug("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.Slug)

	_, ok := r.Lookup("missing")
	assert.False(t, ok)
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	snap := Build([]Module{{ID: "m", Candidates: []rules.Candidate{
		cand("one", "ann", "1", []string{"dbt"}, []string{"dbt-core"}),
	}}})

	e, err := snap.Registry.GetBySlug("one")
	require.NoError(t, err)
	e.Tags[0] = "tampered"
	for got := range snap.Registry.All() {
		got.Libs[0] = "tampered"
	}

	again, _ := snap.Registry.GetBySlug("one")
	assert.Equal(t, []string{"dbt"}, again.Tags)
	assert.Equal(t, []string{"dbt-core"}, again.Libs)
	assert.Equal(t, []string{"one"}, slugs(snap.Registry.ListByTag("dbt")))
}

func TestSnapshotReportsAreCopies(t *testing.T) {
	bad := cand("bad", "ann", "   ", []string{"dbt"}, []string{"dbt-core"})
	snap := Build([]Module{
		{ID: "a", Candidates: []rules.Candidate{cand("dup", "ann", "1", []string{"t"}, []string{"l"}), bad}},
		{ID: "b", Candidates: []rules.Candidate{cand("dup", "bob", "2", []string{"t"}, []string{"l"})}},
	})

	failures := snap.Failures()
	require.Len(t, failures, 1)
	failures[0].Slug = "tampered"
	failures[0].Err.Violations[0].Field = "tampered"

	conflicts := snap.Conflicts()
	require.Len(t, conflicts, 1)
	conflicts[0].Winner.Module = "tampered"

	again := snap.Failures()
	require.Len(t, again, 1)
	assert.Equal(t, "bad", again[0].Slug)
	assert.Equal(t, []string{"content"}, again[0].Err.Fields())
	assert.Equal(t, "b", snap.Conflicts()[0].Winner.Module)

	empty := Build(nil)
	assert.Nil(t, empty.Failures())
	assert.Nil(t, empty.Conflicts())
}

func TestHolderSwapUnderConcurrentReads(t *testing.T) {
	v1 := Build([]Module{{ID: "v1", Candidates: []rules.Candidate{cand("r", "ann", "v1", []string{"t"}, []string{"l"})}}})
	v2 := Build([]Module{{ID: "v2", Candidates: []rules.Candidate{cand("r", "ann", "v2", []string{"t"}, []string{"l"})}}})
	h := NewHolder(v1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := h.Load()
				e, err := snap.Registry.GetBySlug("r")
				if err != nil {
					t.Errorf("lookup failed: %v", err)
					return
				}
				ref, _ := snap.Registry.SourceOf("r")
				if e.Content != ref.Module {
					t.Errorf("torn read: content %q from module %q", e.Content, ref.Module)
					return
				}
			}
		}()
	}

	prev := h.Swap(v2)
	wg.Wait()

	assert.Same(t, v1, prev)
	assert.Same(t, v2, h.Load())
}

func TestDiff(t *testing.T) {
	old := Build([]Module{{ID: "m", Candidates: []rules.Candidate{
		cand("kept", "ann", "1", []string{"t"}, []string{"l"}),
		cand("edited", "ann", "before", []string{"t"}, []string{"l"}),
		cand("gone", "ann", "3", []string{"t"}, []string{"l"}),
	}}}).Registry
	next := Build([]Module{{ID: "m", Candidates: []rules.Candidate{
		cand("kept", "ann", "1", []string{"t"}, []string{"l"}),
		cand("edited", "ann", "after", []string{"t"}, []string{"l"}),
		cand("new", "ann", "4", []string{"t"}, []string{"l"}),
	}}}).Registry

	c := Diff(old, next)
	assert.Equal(t, []string{"new"}, c.Added)
	assert.Equal(t, []string{"gone"}, c.Removed)
	assert.Equal(t, []string{"edited"}, c.Changed)

	assert.Len(t, Diff(nil, next).Added, 3)
}
