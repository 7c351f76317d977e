package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models crewline.yml.
type Config struct {
	Dispatch struct {
		// PresenceWindowSeconds is how long a heartbeat keeps an operator
		// fresh. Claims refuse operators whose last heartbeat is older than
		// 1.5x this window, even when the online flag has not been reaped yet.
		PresenceWindowSeconds int `yaml:"presence_window_seconds"`
		SweepIntervalSeconds  int `yaml:"sweep_interval_seconds"`
	} `yaml:"dispatch"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// staleFactor scales the presence window into the staleness cutoff.
const staleFactor = 1.5

// PresenceWindow returns the heartbeat freshness window.
func (c *Config) PresenceWindow() time.Duration {
	return time.Duration(c.Dispatch.PresenceWindowSeconds) * time.Second
}

// StaleAfter returns the duration after which an operator is considered
// offline regardless of its online flag.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(float64(c.PresenceWindow()) * staleFactor)
}

// SweepInterval returns the standby sweeper tick interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Dispatch.SweepIntervalSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with crew config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Dispatch.PresenceWindowSeconds <= 0 {
		return fmt.Errorf("config.dispatch.presence_window_seconds must be positive")
	}
	if c.Dispatch.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("config.dispatch.sweep_interval_seconds must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event filter entry", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "crewline.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `dispatch:
  presence_window_seconds: 10
  sweep_interval_seconds: 5

server:
  addr: 127.0.0.1:8270
  base_path: /v0

webhooks: []
`
