// Package rules defines the rule entry data model and its schema validator.
//
// A rule entry is a declarative prompt/guideline record: a slug, a title,
// tag and library sets, opaque multi-line content, and author attribution.
// Entries are immutable once validated; accessors hand out clones.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
)

// Author attributes a rule entry. URL and Avatar are optional.
type Author struct {
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	Avatar string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
}

// RuleEntry is one validated rule.
type RuleEntry struct {
	Slug    string   `json:"slug" yaml:"slug"`
	Title   string   `json:"title" yaml:"title"`
	Tags    []string `json:"tags" yaml:"tags"`
	Libs    []string `json:"libs" yaml:"libs"`
	Content string   `json:"content" yaml:"content"`
	Author  Author   `json:"author" yaml:"author"`

	// Computed on validation
	ContentHash string `json:"content_hash" yaml:"-"`
	TokenCount  int    `json:"token_count" yaml:"-"`
}

// Candidate is an entry-shaped value as supplied by a source, before
// validation. Nil pointers and nil slices mean the field was absent.
type Candidate struct {
	Slug    *string          `yaml:"slug"`
	Title   *string          `yaml:"title"`
	Tags    []string         `yaml:"tags"`
	Libs    []string         `yaml:"libs"`
	Content *string          `yaml:"content"`
	Author  *CandidateAuthor `yaml:"author"`
}

// CandidateAuthor is the unvalidated author block.
type CandidateAuthor struct {
	Name   *string `yaml:"name"`
	URL    *string `yaml:"url"`
	Avatar *string `yaml:"avatar"`
}

// CandidateFrom converts a validated entry back into a Candidate.
func CandidateFrom(e RuleEntry) Candidate {
	c := Candidate{
		Slug:    ptr(e.Slug),
		Title:   ptr(e.Title),
		Tags:    copyStringSlice(e.Tags),
		Libs:    copyStringSlice(e.Libs),
		Content: ptr(e.Content),
		Author:  &CandidateAuthor{Name: ptr(e.Author.Name)},
	}
	if e.Author.URL != "" {
		c.Author.URL = ptr(e.Author.URL)
	}
	if e.Author.Avatar != "" {
		c.Author.Avatar = ptr(e.Author.Avatar)
	}
	return c
}

func ptr(s string) *string { return &s }

// HasTag reports whether the entry carries tag exactly.
func (e RuleEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasLib reports whether the entry targets lib exactly.
func (e RuleEntry) HasLib(lib string) bool {
	for _, l := range e.Libs {
		if l == lib {
			return true
		}
	}
	return false
}

// Clone creates a deep copy of the entry.
func (e RuleEntry) Clone() RuleEntry {
	clone := e
	clone.Tags = copyStringSlice(e.Tags)
	clone.Libs = copyStringSlice(e.Libs)
	return clone
}

// EstimateTokens estimates the token count for content.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	// chars/4 is a reasonable approximation for English text
	return (len(content) + 3) / 4
}

// HashContent computes a SHA256 hash of content for conflict diagnostics.
func HashContent(content string) string {
	if content == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

func copyStringSlice(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}
