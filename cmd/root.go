// Package cmd implements the papyr command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/papyr-ai/papyr/internal/log"
)

var (
	flagConfigDir string
	flagLogLevel  string
	flagLogJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "papyr",
	Short: "papyr - retrieval-augmented question answering over a document corpus",
	Long: `papyr chunks a document corpus, embeds the chunks with a configurable
model provider, stores the vectors in PostgreSQL (pgvector), and answers
questions grounded in the most similar chunks.

Run "papyr rebuild" to (re)index the corpus, "papyr ask" for a one-shot
question, or "papyr serve" to expose the JSON API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger := log.New(log.Config{Level: log.ParseLevel(flagLogLevel), JSON: flagLogJSON})
		slog.SetDefault(logger)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory containing config.yaml (default ~/.papyr and .)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit logs as JSON")
}
