package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models mapline.yml.
type Config struct {
	Organization struct {
		// AdminUnit is the sigla of the unit that homologates.
		AdminUnit string `yaml:"admin_unit"`
	} `yaml:"organization"`
	Rules struct {
		ReopenMinJustification int `yaml:"reopen_min_justification"`
		ReminderWindowDays     int `yaml:"reminder_window_days"`
	} `yaml:"rules"`
	Bulk struct {
		Parallelism int `yaml:"parallelism"`
	} `yaml:"bulk"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is an alert delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Kinds          []string `yaml:"kinds"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var logLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ml init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Organization.AdminUnit) == "" {
		return fmt.Errorf("config.organization.admin_unit is required")
	}
	if c.Rules.ReopenMinJustification < 1 {
		return fmt.Errorf("config.rules.reopen_min_justification must be at least 1")
	}
	if c.Rules.ReminderWindowDays < 0 {
		return fmt.Errorf("config.rules.reminder_window_days must not be negative")
	}
	if c.Bulk.Parallelism < 1 {
		return fmt.Errorf("config.bulk.parallelism must be at least 1")
	}
	if c.Logging.Level != "" && !logLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("config.logging.level %q unknown", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.logging.format must be json or console")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
		for _, kind := range hook.Kinds {
			if strings.TrimSpace(kind) == "" {
				return fmt.Errorf("webhook %d has empty alert kind", i)
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
	return filepath.Join(workspace, "mapline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(adminUnit string) string {
	if adminUnit == "" {
		adminUnit = "SEDOC"
	}
	return fmt.Sprintf(defaultTemplate, adminUnit)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(""))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `organization:
  admin_unit: %s

rules:
  reopen_min_justification: 10
  reminder_window_days: 3

bulk:
  parallelism: 4

logging:
  level: info
  format: json

webhooks: []
`
