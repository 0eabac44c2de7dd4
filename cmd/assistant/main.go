package main

import (
	"fmt"
	"os"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/aethrix-hub/assistant/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Site chat assistant relay",
	Long: `Relays visitor chat turns to an OpenAI-compatible endpoint, rotating
models per user and grounding replies in the site's tool catalogue.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to .env file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadRuntime reads .env, the config file and builds the logger. The viper
// instance is returned for config watching.
func loadRuntime() (*config.Config, *viper.Viper, *logrus.Logger, error) {
	// It's okay if .env doesn't exist
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
	}

	v := viper.New()
	cfg, err := config.LoadConfig(v, configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, v, log, nil
}
