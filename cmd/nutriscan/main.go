// Command nutriscan serves and operates the nutrient-deficiency predictor.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yashubustudio/nutriscan/internal/logging"
	"yashubustudio/nutriscan/predictor"
)

var (
	configPath string
	verbose    bool

	cfg    predictor.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "nutriscan",
	Short:         "Predict nutrient deficiencies from skin and nail images",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := predictor.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		logCfg := logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
		if verbose {
			logCfg.Level = "debug"
		}
		logger, err = logging.New(logCfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.json or config.yaml (default: ./config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, predictCmd, provisionCmd, recordsCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nutriscan: %v\n", err)
		os.Exit(1)
	}
}
