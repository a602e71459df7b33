// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the bridge configuration. Values are read from an optional
// YAML file first and then overridden by environment variables, so the
// bridge can run from a bare environment (WEBHOOK_URL=... circlebridge)
// or from a checked-in config file.
type Config struct {
	// WebhookURL is the backend endpoint that receives relayed messages.
	// Required: without it every inbound message would be silently dropped,
	// so startup fails instead.
	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	// StorePath is the sqlite DSN for the WhatsApp credential store.
	StorePath string `yaml:"store_path" env:"STORE_PATH"`
	// ListenAddr is the listen address for the command HTTP API.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL"`
	// ReconnectDelay is the fixed wait between a transient disconnect and
	// the next establishment attempt.
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
}

// UnmarshalYAML decodes the config file over the values already present,
// so absent keys keep their defaults. reconnect_delay is written as a Go
// duration string ("5s"), which yaml cannot decode into time.Duration on
// its own.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		WebhookURL     string `yaml:"webhook_url"`
		StorePath      string `yaml:"store_path"`
		ListenAddr     string `yaml:"listen_addr"`
		LogLevel       string `yaml:"log_level"`
		ReconnectDelay string `yaml:"reconnect_delay"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.WebhookURL != "" {
		c.WebhookURL = raw.WebhookURL
	}
	if raw.StorePath != "" {
		c.StorePath = raw.StorePath
	}
	if raw.ListenAddr != "" {
		c.ListenAddr = raw.ListenAddr
	}
	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	if raw.ReconnectDelay != "" {
		d, err := time.ParseDuration(raw.ReconnectDelay)
		if err != nil {
			return fmt.Errorf("invalid reconnect_delay: %w", err)
		}
		c.ReconnectDelay = d
	}
	return nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		StorePath:      "file:circlebridge.db?_foreign_keys=on",
		ListenAddr:     ":8377",
		LogLevel:       "info",
		ReconnectDelay: 5 * time.Second,
	}
}

// LoadConfig builds the effective configuration: defaults, then the YAML
// file at path (skipped when path is empty), then environment overrides.
// The result is validated; an invalid configuration is a startup failure.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the bridge cannot run
// without.
func (c *Config) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required (set WEBHOOK_URL)")
	}
	u, err := url.Parse(c.WebhookURL)
	if err != nil {
		return fmt.Errorf("webhook_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook_url must be http or https, got %q", u.Scheme)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive, got %s", c.ReconnectDelay)
	}
	return nil
}
