package cli

import (
	"fmt"
	"os"

	"github.com/lazypower/thoughtloop/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	serverURL  string
	verbose    bool
	logger     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "thoughtloop",
	Short: "Continuous thought loop with contamination detox",
	Long: `thoughtloop feeds a stateless model its own accumulated output, cycle after
cycle, measures the self-referential drift of that context and rewrites it
with detox strategies. Snapshots let any run be saved, inspected and resumed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("THOUGHTLOOP_CONFIG"), "config file (env THOUGHTLOOP_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "server URL for remote commands (env THOUGHTLOOP_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(detoxCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(protocolsCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(runsCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
