package corpus

import (
	"context"
	"embed"

	"rulebook/internal/registry"
)

// embeddedRules contains the built-in rule modules, baked in at compile time.
//
//go:embed rules
var embeddedRules embed.FS

// EmbeddedSourcePrefix marks the Source of modules read from the binary.
const EmbeddedSourcePrefix = "embedded:"

// Embedded loads the built-in modules under rules/.
func Embedded(ctx context.Context) ([]registry.Module, []LoadIssue, error) {
	return loadFS(ctx, embeddedRules, "rules", func(p string) string {
		return EmbeddedSourcePrefix + p
	}, DefaultExtensions)
}
