package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
	"github.com/Prismer-AI/rocketchat-bridge/internal/config"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the configured server profile and listen target, then check the credentials against the server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Server:")
		fmt.Printf("  Host:    %s\n", valueOrDefault(cfg.Server.Host, "(not set)"))
		fmt.Printf("  User ID: %s\n", valueOrDefault(cfg.Server.UserID, "(not set)"))
		fmt.Printf("  Token:   %s\n", valueOrDefault(config.Mask(cfg.Server.Token), "(not set)"))
		if ws, err := rocketchat.WebSocketURL(cfg.Server.Host); err == nil {
			fmt.Printf("  Realtime: %s\n", ws)
		}

		fmt.Println()
		fmt.Println("Listen target:")
		fmt.Printf("  Origin:  %s\n", valueOrDefault(string(cfg.Target.Origin), "user"))
		if cfg.Target.Room.Value != "" {
			fmt.Printf("  Room:    %s (%s)\n", cfg.Target.Room.Value, valueOrDefault(cfg.Target.Room.Type, "str"))
		}

		if cfg.Server.Host == "" || cfg.Server.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		client, err := getClient(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Users.Me(ctx)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", err)
			return nil
		}
		if err := me.Err(); err != nil {
			fmt.Printf("  API error: %v\n", err)
			return nil
		}
		fmt.Printf("  Username: %s\n", me.Username)
		fmt.Printf("  Name:     %s\n", me.Name)
		fmt.Printf("  Status:   %s\n", me.Status)
		if len(me.Roles) > 0 {
			fmt.Printf("  Roles:    %s\n", strings.Join(me.Roles, ", "))
		}
		return nil
	},
}
