package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/remedylabs/remedy/internal/ingest"
)

var (
	ingestBatchSize   int
	ingestMaxInFlight int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source]",
	Short: "Bulk-load a tabular source into the indices",
	Long: `Ingest reads a spreadsheet (XLSX) or CSV source with five required
columns (idea number, status, title, cause, solution), embeds the three
text facets of every row, and appends the vectors to the title, cause,
and solution indices with matching metadata rows.

Re-running over a superset source is safe: ingestion resumes after the
highest slot id already stored, and rows whose slot is occupied are
skipped.

Required environment variables:
  OPENAI_API_KEY - OpenAI API key for embeddings

Examples:
  remedy ingest ./kb.xlsx
  remedy ingest ./kb.csv --batch-size 500 --max-in-flight 2`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "Rows per embedding batch (default from config)")
	ingestCmd.Flags().IntVar(&ingestMaxInFlight, "max-in-flight", 0, "Concurrent embedding batches (default from config)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	successStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	contextStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).Italic(true)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rows, dropped, err := ingest.LoadSource(args[0])
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	fmt.Println(contextStyle.Render(fmt.Sprintf("→ Loaded %d rows (%d incomplete rows dropped)", len(rows), dropped)))

	opts := ingest.Options{
		BatchSize:   a.cfg.Ingest.BatchSize,
		MaxInFlight: a.cfg.Ingest.MaxInFlight,
	}
	if ingestBatchSize > 0 {
		opts.BatchSize = ingestBatchSize
	}
	if ingestMaxInFlight > 0 {
		opts.MaxInFlight = ingestMaxInFlight
	}

	indexer, err := ingest.NewIndexer(a.embedder, a.indices, a.meta, a.logger, opts)
	if err != nil {
		return err
	}

	inserted, err := indexer.Resume(ctx, rows)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Ingested %d new records", inserted)))
	return nil
}
