package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taleweaver/internal/config"
	"taleweaver/internal/logging"
)

var (
	// Global flags
	verbose bool
	apiKey  string
	dataDir string

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "taleweaver",
	Short: "taleweaver - a turn-based narrative game engine",
	Long: `taleweaver runs turn-based stories resolved by a generative text
service. It keeps the authoritative session state on your machine,
sequences every turn's side effects, and reconciles the asynchronous
collaborators (narration, memory, spatial tracking, imagery) into one
consistent timeline.

Run "taleweaver play" to start or continue a story.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if dataDir == "" {
			dataDir, err = config.DataDir()
			if err != nil {
				return err
			}
		}
		cfg, err = config.Load(dataDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if apiKey != "" {
			cfg.AI.APIKey = apiKey
		}
		if err := logging.Initialize(dataDir, cfg.LoggingSettings()); err != nil {
			logger.Warn("debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (overrides config and GEMINI_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.taleweaver)")

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	sessionsCmd.AddCommand(sessionsImportCmd)
	sessionsCmd.AddCommand(sessionsMigrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
