package cmd

import (
	"encoding/json"
	"fmt"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/adaptiq/internal/config"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/simulate"
	"github.com/abhisek/adaptiq/internal/ui/report"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated takers against an item bank (no database)",
	Long: `Run simulated takers with known ability through adaptive attempts and
report how well the engine recovers it.

Takers answer with the 3PL probability of their true ability. Without --bank
a synthetic bank is generated. Runs are reproducible for a given --seed.`,
	RunE: runSimulate,
}

func init() {
	config.RegisterEngineFlags(simulateCmd)
	simulateCmd.Flags().String("bank", "", "Item bank file (default: synthetic bank)")
	simulateCmd.Flags().Int("synthetic", 300, "Size of the synthetic bank")
	simulateCmd.Flags().Int("takers", 500, "Number of simulated takers")
	simulateCmd.Flags().Uint64("seed", 1, "Random seed")
	simulateCmd.Flags().Int("parallel", 0, "Concurrent attempts (0 = GOMAXPROCS)")
	simulateCmd.Flags().Bool("json", false, "Print JSON instead of a formatted summary")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	bankPath, _ := cmd.Flags().GetString("bank")
	size, _ := cmd.Flags().GetInt("synthetic")
	asJSON, _ := cmd.Flags().GetBool("json")

	sc := simulate.Config{Engine: cfg.Engine}
	sc.Takers, _ = cmd.Flags().GetInt("takers")
	sc.Seed, _ = cmd.Flags().GetUint64("seed")
	sc.Parallelism, _ = cmd.Flags().GetInt("parallel")

	var items []itembank.Item
	if bankPath != "" {
		bank, err := itembank.LoadFile(bankPath)
		if err != nil {
			return err
		}
		items = bank.Items
	} else {
		if size < 1 {
			return fmt.Errorf("synthetic bank size must be >= 1, got %d", size)
		}
		items = simulate.SyntheticBank("synthetic", size, sc.Seed)
	}

	logger.Info("simulating", "takers", sc.Takers, "items", len(items), "seed", sc.Seed)
	summary, _, err := simulate.Run(cmd.Context(), sc, items)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	_, err = lipgloss.Fprintln(cmd.OutOrStdout(), report.Simulation(summary, 0))
	return err
}
