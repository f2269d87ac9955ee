package main

import (
	"context"
	"fmt"
	"os"

	"teslafi/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	envFile    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "teslafi",
	Short:         "TeslaFi bridge for Home Assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("config file (default $TESLAFI_CONFIG or %s)", config.DefaultPath))
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd, validateCmd, execCmd, statusCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadConfig reads the dotenv file first so TESLAFI_CONFIG and the other
// overrides can come from it.
func loadConfig(logger *zap.Logger) (*config.Loader, *config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	path := configPath
	if path == "" {
		path = config.PathFromEnv(config.DefaultPath)
	}
	loader := config.NewLoader(path, logger)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return loader, cfg, nil
}
