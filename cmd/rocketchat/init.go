package main

import (
	"fmt"

	"github.com/spf13/cobra"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
	"github.com/Prismer-AI/rocketchat-bridge/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <host> <user-id> <token>",
	Short: "Store the server profile in ~/.rocketchat-bridge/config.toml",
	Long:  "Initialize the CLI by storing the server URL and a personal access token pair.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, userID, token := args[0], args[1], args[2]
		if _, err := rocketchat.WebSocketURL(host); err != nil {
			return err
		}

		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Server = config.Server{Host: host, UserID: userID, Token: token}
		if err := config.Save(configFile, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path := configFile
		if path == "" {
			path, _ = config.DefaultPath()
		}
		fmt.Printf("Server profile saved to %s\n", path)
		return nil
	},
}
