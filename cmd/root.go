// Package cmd defines the sage command-line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/avelin0/sage/internal/log"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

var (
	flagLogLevel string
	flagLogJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "sage - retrieval-augmented question answering over a curated knowledge base",
	Long: `sage answers questions from a curated question/answer knowledge base.

It keeps an in-memory vector index synchronized with the knowledge
base in PostgreSQL, retrieves the closest entries for each question,
and optionally rephrases the answer with a language model.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "log in JSON format")
}

// newLogger builds the process logger from the persistent flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	switch flagLogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return log.New(log.Config{Level: level, JSON: flagLogJSON})
}
