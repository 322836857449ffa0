// Package facts exports a registry snapshot as Mangle facts and evaluates a
// small policy over them, so rule metadata can be queried declaratively.
package facts

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"rulebook/internal/logging"
	"rulebook/internal/registry"
)

// ErrUnknownPredicate is returned by Query for predicates the program does not declare or derive.
var ErrUnknownPredicate = errors.New("unknown predicate")

// Schema declares the extensional predicates populated from a snapshot.
const Schema = `
Decl rule(Slug, Title, Module).
Decl rule_tag(Slug, Tag).
Decl rule_lib(Slug, Lib).
Decl rule_author(Slug, Name).
Decl rule_conflict(Slug, Superseded, Winner).
Decl rule_failure(Module, Index).
`

// Policy derives views over the extensional facts.
const Policy = `
contested(Slug) :- rule_conflict(Slug, _, _).
shares_lib(A, B) :- rule_lib(A, Lib), rule_lib(B, Lib), A != B.
shares_tag(A, B) :- rule_tag(A, Tag), rule_tag(B, Tag), A != B.
author_rules(Name, Slug) :- rule_author(Slug, Name).
module_has_failures(Module) :- rule_failure(Module, _).
lib_tag(Lib, Tag) :- rule_lib(Slug, Lib), rule_tag(Slug, Tag).
`

// Row is one fact, arguments rendered as strings.
type Row []string

// Engine holds the evaluated facts for one snapshot. It is read-only after Load.
type Engine struct {
	store      factstore.FactStore
	predicates map[string]ast.PredicateSym
	factCount  int
}

// Load builds the fact store for snap and evaluates Policy plus any extra
// policy sources against it.
func Load(snap *registry.Snapshot, extraPolicy ...string) (*Engine, error) {
	timer := logging.StartTimer(logging.CategoryFacts, "Load")
	defer timer.Stop()

	src := Schema + Policy + strings.Join(extraPolicy, "\n")
	unit, err := parse.Unit(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze policy: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	added := addSnapshot(store, snap)

	stats, err := mengine.EvalProgramWithStats(programInfo, store)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	e := &Engine{
		store:      store,
		predicates: make(map[string]ast.PredicateSym),
		factCount:  added,
	}
	for sym := range programInfo.Decls {
		e.predicates[sym.Symbol] = sym
	}
	for _, clause := range programInfo.Rules {
		e.predicates[clause.Head.Predicate.Symbol] = clause.Head.Predicate
	}

	logging.Get(logging.CategoryFacts).Info("Loaded %d facts, %d predicates", added, len(e.predicates))
	logging.Get(logging.CategoryFacts).Debug("Evaluation stats: %+v", stats)
	return e, nil
}

func addSnapshot(store factstore.FactStore, snap *registry.Snapshot) int {
	n := 0
	add := func(pred string, args ...ast.BaseTerm) {
		if store.Add(ast.NewAtom(pred, args...)) {
			n++
		}
	}

	reg := snap.Registry
	for e := range reg.All() {
		ref, _ := reg.SourceOf(e.Slug)
		add("rule", ast.String(e.Slug), ast.String(e.Title), ast.String(ref.Module))
		add("rule_author", ast.String(e.Slug), ast.String(e.Author.Name))
		for _, t := range e.Tags {
			add("rule_tag", ast.String(e.Slug), ast.String(t))
		}
		for _, l := range e.Libs {
			add("rule_lib", ast.String(e.Slug), ast.String(l))
		}
	}
	for _, c := range snap.Conflicts() {
		add("rule_conflict", ast.String(c.Slug), ast.String(c.Superseded.String()), ast.String(c.Winner.String()))
	}
	for _, f := range snap.Failures() {
		add("rule_failure", ast.String(f.Ref.Module), ast.Number(int64(f.Ref.Index)))
	}
	return n
}

// Query returns every fact for predicate, sorted.
func (e *Engine) Query(predicate string) ([]Row, error) {
	sym, ok := e.predicates[predicate]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPredicate, predicate)
	}

	var rows []Row
	err := e.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		row := make(Row, len(atom.Args))
		for i, arg := range atom.Args {
			row[i] = termString(arg)
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(rows, func(a, b Row) int { return slices.Compare(a, b) })
	return rows, nil
}

// Predicates lists every queryable predicate, sorted.
func (e *Engine) Predicates() []string {
	names := make([]string, 0, len(e.predicates))
	for name := range e.predicates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// FactCount returns the number of extensional facts loaded from the snapshot.
func (e *Engine) FactCount() int {
	return e.factCount
}

func termString(term ast.BaseTerm) string {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	switch c.Type {
	case ast.StringType, ast.NameType:
		return c.Symbol
	case ast.NumberType:
		return strconv.FormatInt(c.NumValue, 10)
	default:
		return c.String()
	}
}
