package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "remedy",
	Short: "Remedy - knowledge-base retrieval assistant",
	Long: `Remedy answers questions against a problem/solution knowledge base.

It ingests tabular records into three similarity indices (title, cause,
solution), fuses per-field search results into one ranked list, and uses
an LLM to synthesize answers from the retrieved context.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// Execute runs the root command.
func Execute() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
