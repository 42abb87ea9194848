package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OriginatorName is the reserved pseudo-team owning a review between query
// rounds. It may never appear in the responding-team catalog.
const OriginatorName = "originator"

// Config models queryline.yml.
type Config struct {
	Review struct {
		Kind string `yaml:"kind"`
	} `yaml:"review"`
	Teams struct {
		Catalog map[string]TeamEntry `yaml:"catalog"`
	} `yaml:"teams"`
	Notifications struct {
		DedupWindowSeconds int             `yaml:"dedup_window_seconds"`
		Webhooks           []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
}

type TeamEntry struct {
	Description string `yaml:"description"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Review.Kind != "chemical-safety" {
		return fmt.Errorf("config.review.kind must be 'chemical-safety'")
	}
	if len(c.Teams.Catalog) == 0 {
		return fmt.Errorf("config.teams.catalog is required")
	}
	for id := range c.Teams.Catalog {
		if id == "" {
			return fmt.Errorf("config.teams.catalog contains empty team id")
		}
		if id == OriginatorName {
			return fmt.Errorf("team id %q is reserved for the originator", OriginatorName)
		}
	}
	if c.Notifications.DedupWindowSeconds < 0 {
		return fmt.Errorf("config.notifications.dedup_window_seconds must not be negative")
	}
	for i, hook := range c.Notifications.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notifications.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// KnownTeam reports whether a team id is in the responding-team catalog.
func (c *Config) KnownTeam(id string) bool {
	_, ok := c.Teams.Catalog[id]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "queryline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Review.Kind = "chemical-safety"
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

const defaultTemplate = `review:
  kind: chemical-safety

teams:
  catalog:
    toxicology:
      description: "Toxicological assessment"
    regulatory:
      description: "Regulatory affairs and classification"
    ecology:
      description: "Environmental fate and ecotoxicology"
    analytics:
      description: "Analytical chemistry and measurement"
    occupational-safety:
      description: "Workplace exposure and handling"

notifications:
  dedup_window_seconds: 120
  webhooks: []
`
