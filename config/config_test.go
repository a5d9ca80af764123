package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 100*time.Millisecond, c.TickRate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero tick rate", func(c *Config) { c.TickRateMS = 0 }, false},
		{"negative agents", func(c *Config) { c.Agents = -1 }, false},
		{"no agents", func(c *Config) { c.Agents = 0 }, true},
		{"zero depth", func(c *Config) { c.PathfinderMaxDepth = 0 }, false},
		{"negative threshold", func(c *Config) { c.RetryThreshold = -1 }, false},
		{"zero speed", func(c *Config) { c.MoveSpeed = 0 }, false},
		{"zero tile size", func(c *Config) { c.TileSize = 0 }, false},
		{"unknown behavior", func(c *Config) { c.Behavior = "psychic" }, false},
		{"built-in script", func(c *Config) { c.Behavior = BehaviorScript }, true},
		{"script", func(c *Config) { c.Behavior = BehaviorScript; c.BehaviorScript = "pick.tengo" }, true},
		{"gemini without key", func(c *Config) { c.Behavior = BehaviorGemini }, false},
		{"gemini", func(c *Config) { c.Behavior = BehaviorGemini; c.GeminiAPIKey = "k" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	dir := t.TempDir()

	c, err := Load(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agents": 3, "behavior": "script"}`), 0o600))
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Agents)
	assert.Equal(t, BehaviorScript, c.Behavior)
	assert.Equal(t, 100, c.TickRateMS, "unset fields keep their defaults")

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gemini_api_key": "from-file"}`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.GeminiAPIKey)
}

func TestSaveDefault(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, SaveDefault(path))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	// an existing file is left alone
	require.NoError(t, os.WriteFile(path, []byte(`{"agents": 1}`), 0o600))
	require.NoError(t, SaveDefault(path))
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Agents)
}
