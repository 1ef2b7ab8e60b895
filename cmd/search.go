package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var searchTopK int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a one-shot fusion search",
	Long: `Search embeds the query once, probes the title, cause, and solution
indices with the same vector, and prints the fused, deduplicated result
list ranked by ascending distance.

Examples:
  remedy search "pump seal is leaking"
  remedy search "conveyor jam" --topk 10`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchTopK, "topk", 0, "Neighbors per field index (default from config)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#F780FF")).Bold(true)
	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD"))
	bodyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#E9E9F4"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).Italic(true)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	topK := a.cfg.Search.TopK
	if searchTopK > 0 {
		topK = searchTopK
	}

	results, err := a.engine.Search(ctx, args[0], topK)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println(mutedStyle.Render("No matches found."))
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("Results (%d):", len(results))))
	for i, res := range results {
		rec := res.Record
		fmt.Println()
		fmt.Println(titleStyle.Render(fmt.Sprintf("%d. %s", i+1, rec.Title)))
		fmt.Println(mutedStyle.Render(fmt.Sprintf("   idea %s | status %s | distance %.4f | matched on %s",
			rec.IdeaNumber, rec.Status, res.Distance, res.Field)))
		fmt.Println(bodyStyle.Render(fmt.Sprintf("   Cause: %s", rec.Cause)))
		fmt.Println(bodyStyle.Render(fmt.Sprintf("   Solution: %s", rec.Solution)))
	}
	return nil
}
