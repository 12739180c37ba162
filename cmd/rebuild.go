package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papyr-ai/papyr/internal/pipeline"
)

var (
	flagRebuildSource    string
	flagRebuildChunkSize int
	flagRebuildOverlap   int
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index from the corpus directory",
	Long: `rebuild chunks every document under the corpus directory, embeds the
chunks, and atomically replaces the live vector index. Queries served
during the rebuild keep using the previous index until the swap.`,
	RunE: runRebuild,
}

func init() {
	rebuildCmd.Flags().StringVar(&flagRebuildSource, "source", "", "corpus directory (default from config)")
	rebuildCmd.Flags().IntVar(&flagRebuildChunkSize, "chunk-size", 0, "words per chunk (default from config)")
	rebuildCmd.Flags().IntVar(&flagRebuildOverlap, "overlap", 0, "words shared between adjacent chunks")
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setup(ctx)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	req := pipeline.Request{
		CorpusDir:    flagRebuildSource,
		ChunkSize:    flagRebuildChunkSize,
		ChunkOverlap: flagRebuildOverlap,
	}
	if err := a.orchestrator.Run(ctx, req); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}

	st := a.orchestrator.Status()
	fmt.Fprintf(cmd.OutOrStdout(),
		"indexed %d chunks from %d documents (%d skipped), dimension %d\n",
		st.Chunks, st.Documents, st.Skipped, st.Dimension)

	return nil
}
