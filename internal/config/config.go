package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rulebook/internal/logging"
)

// DefaultPath is where the CLI looks for configuration when --config is not given.
const DefaultPath = "rulebook.yaml"

// Config holds all rulebook configuration.
type Config struct {
	// Where rule modules come from
	Corpus CorpusConfig `yaml:"corpus"`

	// SQLite export
	Store StoreConfig `yaml:"store"`

	// Hot reload
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CorpusConfig configures module discovery.
type CorpusConfig struct {
	Dir        string   `yaml:"dir"`        // local module directory; empty disables
	Embedded   bool     `yaml:"embedded"`   // load the built-in modules first
	Extensions []string `yaml:"extensions"` // file extensions treated as modules
}

// StoreConfig configures the SQLite export target.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
	Path   string `yaml:"path"`
}

// WatchConfig configures hot reload.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
	Export   bool   `yaml:"export"` // re-export to the store after each reload
}

// ValidDrivers lists the registered database/sql driver names.
var ValidDrivers = []string{"sqlite3", "sqlite"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Dir:        "rules",
			Embedded:   true,
			Extensions: []string{".yaml", ".yml"},
		},
		Store: StoreConfig{
			Driver: "sqlite3",
			Path:   "data/rulebook.db",
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults still honor the environment
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("RULEBOOK_CORPUS_DIR"); dir != "" {
		c.Corpus.Dir = dir
	}
	if db := os.Getenv("RULEBOOK_DB"); db != "" {
		c.Store.Path = db
	}
	if driver := os.Getenv("RULEBOOK_DB_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}
	if level := os.Getenv("RULEBOOK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetDebounce returns the watch debounce as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// IsModuleFile reports whether a path has one of the configured module extensions.
func (c *Config) IsModuleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.Corpus.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validDriver := false
	for _, d := range ValidDrivers {
		if c.Store.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidDrivers)
	}

	if !c.Corpus.Embedded && c.Corpus.Dir == "" {
		return fmt.Errorf("no rule source configured: enable corpus.embedded or set corpus.dir")
	}

	if len(c.Corpus.Extensions) == 0 {
		return fmt.Errorf("corpus.extensions must not be empty")
	}

	if c.Watch.Debounce != "" {
		if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
			return fmt.Errorf("invalid watch.debounce %q: %w", c.Watch.Debounce, err)
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %s (valid: text, json)", c.Logging.Format)
	}

	return nil
}
