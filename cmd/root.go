package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/adaptiq/internal/config"
	"github.com/abhisek/adaptiq/internal/logging"
	"github.com/abhisek/adaptiq/internal/store"
	"github.com/abhisek/adaptiq/internal/telemetry"
)

// Resolved by the root pre-run hook for the executing command.
var (
	cfg      config.Config
	logger   = slog.Default()
	shutdown telemetry.Shutdown
)

var rootCmd = &cobra.Command{
	Use:   "adaptiq",
	Short: "Adaptive assessment engine",
	Long: `adaptiq runs computerized adaptive tests: it picks each question for the
taker's current ability estimate, stops once the estimate is precise enough
and reports both raw scores and ability.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(cmd); err != nil {
			return err
		}
		if logger, err = logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
			return err
		}
		slog.SetDefault(logger)

		shutdown, err = telemetry.Init(cfg.Trace, os.Stderr, version, logger)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdown == nil {
			return nil
		}
		return shutdown(context.Background())
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bankCmd)
	rootCmd.AddCommand(attemptsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// openStore opens the configured database.
func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}
