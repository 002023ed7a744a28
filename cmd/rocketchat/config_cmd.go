package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Prismer-AI/rocketchat-bridge/internal/config"
)

var configShowYAML bool

func init() {
	configShowCmd.Flags().BoolVar(&configShowYAML, "yaml", false, "Print as YAML")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bridge configuration",
	Long:  "View or modify the configuration stored in ~/.rocketchat-bridge/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		data, err := config.Marshal(cfg.Redacted(), configShowYAML)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value using dot notation.\n" +
		"Example: rocketchat config set server.host https://chat.example.com\n" +
		"Target properties take an optional kind prefix: msg:payload.room, form:{...}, env:RC_ROOM.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		// Written back as-is: the environment overlay must not leak into the file.
		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if err := config.Save(configFile, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if strings.HasSuffix(key, "token") || strings.HasSuffix(key, "secret") {
			value = config.Mask(value)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys accepted by 'config set'",
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.Keys() {
			fmt.Println(k)
		}
	},
}
