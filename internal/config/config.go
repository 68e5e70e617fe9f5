// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the gateway configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the gateway.
type Config struct {
	// Listen is the HTTP bind address, e.g. ":8000".
	Listen string `yaml:"listen"`

	// PublicBase is the externally visible address clients reach this
	// service under; rewritten manifests point here.
	PublicBase string `yaml:"public_base"`

	// EngineBase is the AceStream engine base address.
	EngineBase string `yaml:"engine_base"`

	// PoolSize bounds the number of concurrent engine slots.
	PoolSize int `yaml:"pool_size"`

	// TranscodeAudio requests AC3 transcoding on new bindings.
	TranscodeAudio bool `yaml:"transcode_audio"`

	// DataDir holds the quality store and the id mapping file.
	DataDir string `yaml:"data_dir"`

	// LogLevel overrides the zerolog level ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`

	// RateLimitRPS caps per-client requests per second on the relay
	// routes; 0 disables rate limiting.
	RateLimitRPS int `yaml:"rate_limit_rps"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:       ":8000",
		PublicBase:   "http://127.0.0.1:8000",
		EngineBase:   "http://127.0.0.1:6878",
		PoolSize:     5,
		DataDir:      "data",
		RateLimitRPS: 20,
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty or missing), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Listen = ParseString("ACE2G_LISTEN", cfg.Listen)
	cfg.PublicBase = ParseString("ACE2G_PUBLIC_BASE", cfg.PublicBase)
	cfg.EngineBase = ParseString("ACE2G_ENGINE", cfg.EngineBase)
	cfg.PoolSize = ParseInt("ACE2G_POOL_SIZE", cfg.PoolSize)
	cfg.TranscodeAudio = ParseBool("ACE2G_TRANSCODE_AUDIO", cfg.TranscodeAudio)
	cfg.DataDir = ParseString("ACE2G_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.RateLimitRPS = ParseInt("ACE2G_RATE_LIMIT_RPS", cfg.RateLimitRPS)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints before any component starts.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", c.PoolSize)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps must not be negative, got %d", c.RateLimitRPS)
	}
	for name, raw := range map[string]string{
		"engine_base": c.EngineBase,
		"public_base": c.PublicBase,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported %s scheme %q", name, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("%s %q is missing host", name, raw)
		}
	}
	return nil
}

// QualityStorePath returns the quality score store location.
func (c Config) QualityStorePath() string {
	return filepath.Join(c.DataDir, "quality.json")
}

// MappingPath returns the content-id mapping file location.
func (c Config) MappingPath() string {
	return filepath.Join(c.DataDir, "mappings.csv")
}
