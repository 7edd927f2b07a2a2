// Package cli provides the command-line interface for traitmeter.
package cli

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/victoria-analytics/traitmeter/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	cfg    config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "traitmeter",
	Short: "Psychometric scoring and archetype clustering",
	Long: `Traitmeter scores Likert survey batches on a shared logit scale,
aggregates item measures into trait profiles, and clusters respondents into
named behavioral archetypes.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logFile := filepath.Join(cfg.DataDir, "traitmeter.log")
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			logFile = "traitmeter.log"
		}
		var cleanup func() error
		logger, cleanup = config.SetupLogger(logFile, level)
		cobra.OnFinalize(func() { _ = cleanup() })
		slog.SetDefault(logger)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
}
