package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Prismer-AI/rocketchat-bridge/internal/config"
	"github.com/Prismer-AI/rocketchat-bridge/internal/observability"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rocketchat",
	Short: "Rocket.Chat bridge CLI",
	Long: "Command-line interface for the Rocket.Chat bridge.\n" +
		"Listen to rooms and live chats in realtime, send messages, and manage rooms.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.rocketchat-bridge/config.toml; .yaml/.yml read as YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

// loadConfig reads the config file and environment overlay.
func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return observability.NewLogger(level, cfg.Log.Format)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
