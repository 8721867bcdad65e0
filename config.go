package cablelink

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for optional Config fields.
const (
	DefaultChannel          = "GraphqlChannel"
	DefaultTokenParam       = "token"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

// Config holds the configuration for a cable client.
type Config struct {
	// URL is the cable endpoint, e.g. wss://api.example.com/cable.
	// Fallback: CABLE_URL environment variable.
	URL string `yaml:"url"`

	// Channel is the server channel every operation subscribes to.
	// Fallback: CABLE_CHANNEL environment variable, then DefaultChannel.
	Channel string `yaml:"channel"`

	// Token is a static auth token, used when no TokenProvider option is given.
	// Fallback: CABLE_TOKEN environment variable.
	Token string `yaml:"token"`

	// TokenParam is the query parameter that carries the token.
	TokenParam string `yaml:"token_param"`

	// Origin is sent as the Origin header of the websocket handshake.
	Origin string `yaml:"origin"`

	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	WriteTimeout     Duration `yaml:"write_timeout"`

	// StaleTimeout closes a socket that received no ping for this long.
	// Zero disables the check.
	StaleTimeout Duration `yaml:"stale_timeout"`
}

// resolveConfig fills empty fields from environment variables and defaults,
// then validates required fields.
func resolveConfig(cfg Config) (Config, error) {
	if cfg.URL == "" {
		cfg.URL = os.Getenv("CABLE_URL")
	}
	if cfg.Channel == "" {
		cfg.Channel = os.Getenv("CABLE_CHANNEL")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("CABLE_TOKEN")
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.TokenParam == "" {
		cfg.TokenParam = DefaultTokenParam
	}
	if cfg.HandshakeTimeout.Duration == 0 {
		cfg.HandshakeTimeout.Duration = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout.Duration == 0 {
		cfg.WriteTimeout.Duration = DefaultWriteTimeout
	}

	if cfg.URL == "" {
		return cfg, fmt.Errorf("URL is required (set in Config or CABLE_URL env)")
	}
	if cfg.StaleTimeout.Duration < 0 {
		return cfg, fmt.Errorf("stale_timeout must be >= 0, got %s", cfg.StaleTimeout.Duration)
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file, expanding ${VAR} references first.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := ReadYAML(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadYAML decodes the YAML file at path into out after expanding ${VAR}
// references against the environment.
func ReadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// Duration wraps time.Duration to support YAML strings like "5s" or "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}
