package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rulebook/internal/config"
	"rulebook/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	corpusDir  string
	noEmbedded bool
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rulebook",
	Short: "rulebook - validated registry of prompt rules",
	Long: `rulebook loads rule modules (YAML files of prompt/guideline entries),
validates every entry, resolves duplicate slugs with last-write-wins by load
order, and exposes the result for lookup, export and querying.

Built-in modules load first, then modules from the corpus directory, so local
files override built-in rules with the same slug.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("dir") {
			loaded.Corpus.Dir = corpusDir
		}
		if noEmbedded {
			loaded.Corpus.Embedded = false
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		opts := cfg.Logging.Options()
		if verbose {
			opts.DebugMode = true
		}
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Get(logging.CategoryBoot).Debug("Config loaded from %s (corpus dir %q, embedded %v)", configPath, cfg.Corpus.Dir, cfg.Corpus.Embedded)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVarP(&corpusDir, "dir", "d", "", "Corpus directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noEmbedded, "no-embedded", false, "Skip the built-in rule modules")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Operation timeout")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commandContext bounds one-shot commands by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}
