package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Listen)
	assert.Equal(t, 5, cfg.PoolSize)
	assert.Equal(t, "http://127.0.0.1:6878", cfg.EngineBase)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
engine_base: "http://10.0.0.5:6878"
pool_size: 3
transcode_audio: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "http://10.0.0.5:6878", cfg.EngineBase)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.True(t, cfg.TranscodeAudio)
	assert.Equal(t, "data", cfg.DataDir, "unset fields keep defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool_size: 3\n"), 0o644))

	t.Setenv("ACE2G_POOL_SIZE", "7")
	t.Setenv("ACE2G_ENGINE", "http://192.168.1.10:6878")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.PoolSize)
	assert.Equal(t, "http://192.168.1.10:6878", cfg.EngineBase)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero pool size", func(c *Config) { c.PoolSize = 0 }, false},
		{"negative rate limit", func(c *Config) { c.RateLimitRPS = -1 }, false},
		{"empty listen", func(c *Config) { c.Listen = "" }, false},
		{"bad engine scheme", func(c *Config) { c.EngineBase = "ftp://host" }, false},
		{"engine missing host", func(c *Config) { c.EngineBase = "http://" }, false},
		{"bad public base", func(c *Config) { c.PublicBase = "not a url" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestEnvParsersFallBackOnGarbage(t *testing.T) {
	t.Setenv("ACE2G_POOL_SIZE", "many")
	t.Setenv("ACE2G_TRANSCODE_AUDIO", "yep")

	assert.Equal(t, 5, ParseInt("ACE2G_POOL_SIZE", 5))
	assert.False(t, ParseBool("ACE2G_TRANSCODE_AUDIO", false))
}
