package rules

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Violation reasons.
const (
	ReasonMissing = "missing"
	ReasonEmpty   = "empty"
	ReasonFormat  = "invalid format"
)

// slugPattern matches kebab-case slugs such as "dbt-core-cursor-rules".
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// FieldViolation names one field that failed validation.
type FieldViolation struct {
	Field  string // dotted path, e.g. "author.name" or "tags[2]"
	Reason string
	Detail string
}

func (v FieldViolation) String() string {
	if v.Detail == "" {
		return v.Field + ": " + v.Reason
	}
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Reason, v.Detail)
}

// SchemaError lists every violation found in one candidate.
type SchemaError struct {
	Violations []FieldViolation
}

func (e *SchemaError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "schema error: " + strings.Join(parts, "; ")
}

// Fields returns the names of the violated fields in report order.
func (e *SchemaError) Fields() []string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Field
	}
	return fields
}

// Has reports whether field was violated.
func (e *SchemaError) Has(field string) bool {
	for _, v := range e.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}

// validator accumulates violations instead of stopping at the first.
type validator struct {
	violations []FieldViolation
}

func (v *validator) add(field, reason, detail string) {
	v.violations = append(v.violations, FieldViolation{Field: field, Reason: reason, Detail: detail})
}

// Validate checks a candidate against the entry schema. On success it returns
// the normalized entry: scalar fields trimmed, tag and lib members trimmed and
// de-duplicated in first-seen order, content untouched. On failure it returns
// a *SchemaError naming every violated field.
func Validate(c Candidate) (RuleEntry, error) {
	var v validator
	var e RuleEntry

	e.Slug = v.requiredString("slug", c.Slug)
	if e.Slug != "" && !slugPattern.MatchString(e.Slug) {
		v.add("slug", ReasonFormat, "want lowercase kebab-case")
	}
	e.Title = v.requiredString("title", c.Title)
	e.Tags = v.stringSet("tags", c.Tags)
	e.Libs = v.stringSet("libs", c.Libs)

	switch {
	case c.Content == nil:
		v.add("content", ReasonMissing, "")
	case strings.TrimSpace(*c.Content) == "":
		v.add("content", ReasonEmpty, "")
	default:
		e.Content = *c.Content
	}

	if c.Author == nil {
		v.add("author", ReasonMissing, "")
	} else {
		e.Author.Name = v.requiredString("author.name", c.Author.Name)
		e.Author.URL = v.optionalURL("author.url", c.Author.URL)
		e.Author.Avatar = v.optionalURL("author.avatar", c.Author.Avatar)
	}

	if len(v.violations) > 0 {
		return RuleEntry{}, &SchemaError{Violations: v.violations}
	}

	e.ContentHash = HashContent(e.Content)
	e.TokenCount = EstimateTokens(e.Content)
	return e, nil
}

func (v *validator) requiredString(field string, s *string) string {
	if s == nil {
		v.add(field, ReasonMissing, "")
		return ""
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		v.add(field, ReasonEmpty, "")
	}
	return trimmed
}

func (v *validator) stringSet(field string, values []string) []string {
	if values == nil {
		v.add(field, ReasonMissing, "")
		return nil
	}
	if len(values) == 0 {
		v.add(field, ReasonEmpty, "")
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for i, raw := range values {
		val := strings.TrimSpace(raw)
		if val == "" {
			v.add(fmt.Sprintf("%s[%d]", field, i), ReasonEmpty, "")
			continue
		}
		if seen[val] {
			continue
		}
		seen[val] = true
		out = append(out, val)
	}
	return out
}

// optionalURL accepts nil or blank as absent; otherwise requires an absolute http(s) URL.
func (v *validator) optionalURL(field string, s *string) string {
	if s == nil {
		return ""
	}
	raw := strings.TrimSpace(*s)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.add(field, ReasonFormat, "want absolute http(s) URL")
		return ""
	}
	return raw
}
