package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/avelin0/sage/internal/app"
	"github.com/avelin0/sage/internal/config"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index from the knowledge base and exit",
	Long: `Rebuild fetches all active knowledge entries, re-encodes them, and
replaces the persisted index. Useful after bulk imports or when the
persisted index is suspect.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.Setup(cmd.Context(), cfg, version, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
	}()

	result, err := a.Syncer.ForceRebuild(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
