package main

import (
	"encoding/json"
	"fmt"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
	"github.com/Prismer-AI/rocketchat-bridge/internal/config"
)

// getClient creates a REST client for the configured server profile.
func getClient(cfg *config.Config) (*rocketchat.Client, error) {
	if cfg.Server.Host == "" {
		return nil, fmt.Errorf("no server configured; run 'rocketchat init <host> <user-id> <token>' first")
	}
	return rocketchat.NewClient(cfg.Server.Host, cfg.Server.UserID, cfg.Server.Token)
}

// loadClient loads the config and builds a client from it.
func loadClient() (*rocketchat.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return getClient(cfg)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func apiError(what string, err error) error {
	return fmt.Errorf("%s failed: %w", what, err)
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
