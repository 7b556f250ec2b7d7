// Package config loads the client configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is everything the duel client needs at startup.
type Config struct {
	// RelayURL is the NATS relay address.
	RelayURL string `yaml:"relay_url"`
	// DisplayName is shown to other peers in the lobby.
	DisplayName string `yaml:"display_name"`
	// StatsPath is the BoltDB file for cumulative counters.
	StatsPath string `yaml:"stats_path"`
	// CatalogPath is the YAML puzzle catalog.
	CatalogPath string `yaml:"catalog_path"`
	// GatewayAddr is the listen address for the UI websocket gateway.
	// Empty disables the gateway.
	GatewayAddr string `yaml:"gateway_addr"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		RelayURL:    "nats://127.0.0.1:4222",
		StatsPath:   "duel-stats.db",
		CatalogPath: "puzzles.yaml",
		GatewayAddr: "127.0.0.1:8089",
	}
}

// Load reads the config file (optional, defaults apply when missing) and
// applies DUEL_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.RelayURL = getEnv("DUEL_RELAY_URL", cfg.RelayURL)
	cfg.DisplayName = getEnv("DUEL_DISPLAY_NAME", cfg.DisplayName)
	cfg.StatsPath = getEnv("DUEL_STATS_PATH", cfg.StatsPath)
	cfg.CatalogPath = getEnv("DUEL_CATALOG_PATH", cfg.CatalogPath)
	cfg.GatewayAddr = getEnv("DUEL_GATEWAY_ADDR", cfg.GatewayAddr)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
