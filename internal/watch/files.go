package watch

import (
	"path/filepath"
	"sync/atomic"

	"rulebook/internal/registry"
)

// FileSet remembers which non-module files the last load read through
// content_file, so edits to those bodies also trigger a reload.
// Track and Contains may be called from different goroutines.
type FileSet struct {
	files atomic.Pointer[map[string]bool]
}

// Track replaces the set with the content files referenced by modules.
func (s *FileSet) Track(modules []registry.Module) {
	files := make(map[string]bool)
	for _, m := range modules {
		for _, f := range m.ContentFiles {
			files[filepath.Clean(f)] = true
		}
	}
	s.files.Store(&files)
}

// Contains reports whether path was referenced by the last tracked load.
func (s *FileSet) Contains(path string) bool {
	files := s.files.Load()
	return files != nil && (*files)[filepath.Clean(path)]
}

// Len returns the number of tracked files.
func (s *FileSet) Len() int {
	files := s.files.Load()
	if files == nil {
		return 0
	}
	return len(*files)
}

// Filter returns a WithFilter predicate accepting module files and tracked content files.
func (s *FileSet) Filter(isModule func(path string) bool) func(path string) bool {
	return func(path string) bool {
		return isModule(path) || s.Contains(path)
	}
}
