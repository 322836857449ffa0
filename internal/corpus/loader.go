// Package corpus discovers and parses rule modules.
//
// A module is one YAML file holding either a sequence of rule entries or a
// single entry mapping. The module ID is the file path relative to the corpus
// root without its extension ("core/dbt-core"). Files are visited in lexical
// path order, which is also the load order used for conflict resolution.
package corpus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"rulebook/internal/config"
	"rulebook/internal/logging"
	"rulebook/internal/registry"
	"rulebook/internal/rules"
)

// DefaultExtensions are the file extensions treated as modules when none are configured.
var DefaultExtensions = []string{".yaml", ".yml"}

// Severity of a LoadIssue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes.
const (
	CodeRead        = "read"
	CodeParse       = "parse"
	CodeContentFile = "content_file"
	CodeMissingDir  = "missing_dir"
)

// LoadIssue is a file-level problem. The affected file (or entry, for
// CodeContentFile) is skipped or left for the validator; other files still load.
type LoadIssue struct {
	Severity Severity
	Code     string
	Path     string
	Message  string
	Cause    error
}

func (i LoadIssue) Error() string {
	if i.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", i.Path, i.Message, i.Cause)
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

func (i LoadIssue) Unwrap() error { return i.Cause }

// yamlRule is the on-disk entry shape. content_file, when content is blank,
// names a file relative to the YAML file whose bytes become the content.
type yamlRule struct {
	rules.Candidate `yaml:",inline"`
	ContentFile     string `yaml:"content_file,omitempty"`
}

// parsed is one file's result, kept in a slot so output order matches walk order.
type parsed struct {
	module registry.Module
	issues []LoadIssue
	ok     bool
}

// Load reads the embedded modules (if enabled) followed by the configured
// directory, so local modules override built-in ones.
func Load(ctx context.Context, cfg *config.Config) ([]registry.Module, []LoadIssue, error) {
	timer := logging.StartTimer(logging.CategoryCorpus, "Load")
	defer timer.Stop()

	var modules []registry.Module
	var issues []LoadIssue

	if cfg.Corpus.Embedded {
		m, is, err := Embedded(ctx)
		if err != nil {
			return nil, nil, err
		}
		modules = append(modules, m...)
		issues = append(issues, is...)
	}

	if cfg.Corpus.Dir != "" {
		m, is, err := LoadDir(ctx, cfg.Corpus.Dir, cfg.Corpus.Extensions...)
		switch {
		case errors.Is(err, fs.ErrNotExist) && cfg.Corpus.Embedded:
			logging.Get(logging.CategoryCorpus).Debug("Corpus dir %s does not exist, using embedded modules only", cfg.Corpus.Dir)
			issues = append(issues, LoadIssue{
				Severity: SeverityWarning,
				Code:     CodeMissingDir,
				Path:     cfg.Corpus.Dir,
				Message:  "corpus directory does not exist",
			})
		case err != nil:
			return nil, nil, err
		default:
			modules = append(modules, m...)
			issues = append(issues, is...)
		}
	}

	logging.Get(logging.CategoryCorpus).Info("Loaded %d modules (%d issues)", len(modules), len(issues))
	return modules, issues, nil
}

// LoadDir loads every module file under dir. A missing or unreadable dir is an
// error; problems with individual files are returned as issues.
func LoadDir(ctx context.Context, dir string, exts ...string) ([]registry.Module, []LoadIssue, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open corpus dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("corpus path %s is not a directory", dir)
	}
	return loadFS(ctx, os.DirFS(dir), ".", func(p string) string {
		return filepath.Join(dir, filepath.FromSlash(p))
	}, exts)
}

// loadFS walks root inside fsys in lexical order and parses module files
// concurrently. sourceOf maps an fsys path to the Source recorded on the module.
func loadFS(ctx context.Context, fsys fs.FS, root string, sourceOf func(string) string, exts []string) ([]registry.Module, []LoadIssue, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	var paths []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Skip hidden directories like .git
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if hasExt(p, exts) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk corpus %s: %w", root, err)
	}

	results := make([]parsed, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = parseModule(fsys, root, p, sourceOf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	modules := make([]registry.Module, 0, len(results))
	var issues []LoadIssue
	for _, r := range results {
		issues = append(issues, r.issues...)
		if r.ok {
			modules = append(modules, r.module)
		}
	}
	return modules, issues, nil
}

func parseModule(fsys fs.FS, root, p string, sourceOf func(string) string) parsed {
	log := logging.Get(logging.CategoryCorpus)
	source := sourceOf(p)

	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		log.Warn("Failed to read %s: %v", source, err)
		return parsed{issues: []LoadIssue{{Severity: SeverityError, Code: CodeRead, Path: source, Message: "failed to read module", Cause: err}}}
	}

	raws, err := decodeRules(data)
	if err != nil {
		log.Warn("Failed to parse %s: %v", source, err)
		return parsed{issues: []LoadIssue{{Severity: SeverityError, Code: CodeParse, Path: source, Message: "failed to parse module", Cause: err}}}
	}

	m := registry.Module{ID: ModuleID(root, p), Source: source}
	var issues []LoadIssue
	for i, raw := range raws {
		c := raw.Candidate
		if raw.ContentFile != "" && (c.Content == nil || strings.TrimSpace(*c.Content) == "") {
			contentPath := path.Join(path.Dir(p), raw.ContentFile)
			// Recorded even when missing, so creating the file later triggers a reload
			m.ContentFiles = append(m.ContentFiles, sourceOf(contentPath))
			body, err := fs.ReadFile(fsys, contentPath)
			if err != nil {
				issues = append(issues, LoadIssue{
					Severity: SeverityError,
					Code:     CodeContentFile,
					Path:     source,
					Message:  fmt.Sprintf("entry %d: failed to read content_file %s", i, raw.ContentFile),
					Cause:    err,
				})
			} else {
				s := string(body)
				c.Content = &s
			}
		}
		m.Candidates = append(m.Candidates, c)
	}

	log.Debug("Parsed %d candidates from %s", len(m.Candidates), source)
	return parsed{module: m, issues: issues, ok: true}
}

// decodeRules accepts a sequence of entries or a single entry mapping per
// document. A file may hold several "---" separated documents; their entries
// are concatenated in document order. Unknown keys are rejected. Empty
// documents contribute nothing.
func decodeRules(data []byte) ([]yamlRule, error) {
	// First pass: find each document's shape.
	var kinds []yaml.Kind
	shapes := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := shapes.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, documentKind(&doc))
	}

	// Second pass: strict decode of each document in the same order.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var out []yamlRule
	for i, kind := range kinds {
		switch kind {
		case 0:
			var skip yaml.Node
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("document %d: %w", i+1, err)
			}
		case yaml.SequenceNode:
			var raws []yamlRule
			if err := dec.Decode(&raws); err != nil {
				return nil, fmt.Errorf("document %d: %w", i+1, err)
			}
			out = append(out, raws...)
		case yaml.MappingNode:
			var single yamlRule
			if err := dec.Decode(&single); err != nil {
				return nil, fmt.Errorf("document %d: %w", i+1, err)
			}
			out = append(out, single)
		default:
			return nil, fmt.Errorf("document %d: expected a sequence or mapping of rule entries, got %s", i+1, kindName(kind))
		}
	}
	return out, nil
}

// documentKind returns the kind of a document's root node, or 0 when the
// document is empty or an explicit null.
func documentKind(doc *yaml.Node) yaml.Kind {
	if len(doc.Content) == 0 {
		return 0
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.ShortTag() == "!!null" {
		return 0
	}
	return root.Kind
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return fmt.Sprintf("node kind %d", k)
	}
}

// ModuleID derives a module ID from a path inside the corpus root.
func ModuleID(root, p string) string {
	rel := p
	if root != "." && root != "" {
		rel = strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
	}
	return strings.TrimSuffix(rel, path.Ext(rel))
}

func hasExt(p string, exts []string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
