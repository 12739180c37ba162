package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papyr-ai/papyr/internal/retrieval"
)

var (
	flagAskTopK    int
	flagAskSources bool
	flagAskExpand  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a one-shot question against the indexed corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVar(&flagAskTopK, "top-k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().BoolVar(&flagAskSources, "sources", false, "print the retrieved source chunks")
	askCmd.Flags().BoolVar(&flagAskExpand, "expand", false, "expand the query with the LLM before retrieval")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setup(ctx)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	searchQuery := question
	if flagAskExpand || a.cfg.ExpandQuery {
		searchQuery = a.genGateway.ExpandQuery(ctx, question)
	}

	topK := flagAskTopK
	if topK <= 0 {
		topK = a.cfg.TopK
	}
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}

	matches, err := a.ranker.Retrieve(ctx, searchQuery, topK)
	if err != nil {
		return fmt.Errorf("retrieving context: %w", err)
	}

	result, err := a.genGateway.Answer(ctx, question, matches, nil)
	if err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Answer)

	if flagAskSources {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for _, m := range matches {
			fmt.Fprintf(out, "  [%.3f] %s (chunk %d)\n", m.Similarity, m.Chunk.Title, m.Chunk.Seq)
		}
	}
	if result.TokensPerSecond != nil {
		fmt.Fprintf(out, "\n%.1f tokens/s\n", *result.TokensPerSecond)
	}

	return nil
}
