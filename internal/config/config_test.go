package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duel.yaml")
	doc := `relay_url: nats://relay.example:4222
display_name: Casey
stats_path: /tmp/duel.db
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://relay.example:4222", cfg.RelayURL)
	assert.Equal(t, "Casey", cfg.DisplayName)
	assert.Equal(t, "/tmp/duel.db", cfg.StatsPath)
	// Unset keys keep their defaults.
	assert.Equal(t, Default().CatalogPath, cfg.CatalogPath)

	t.Setenv("DUEL_RELAY_URL", "nats://other:4222")
	t.Setenv("DUEL_DISPLAY_NAME", "Robin")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://other:4222", cfg.RelayURL)
	assert.Equal(t, "Robin", cfg.DisplayName)
}
