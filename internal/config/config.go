package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models atrium.yml.
type Config struct {
	Property struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"property"`
	WorkOrders struct {
		CodePrefix      string `yaml:"code_prefix"`
		DefaultPriority string `yaml:"default_priority"`
	} `yaml:"workorders"`
	Notifications struct {
		Strategy           string `yaml:"strategy"`
		NotifyStakeholders bool   `yaml:"notify_stakeholders"`
	} `yaml:"notifications"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one outbound delivery target for notifications.
// An empty Actions list means every action is delivered.
type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Actions        []string `yaml:"actions"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with atrium property config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Property.ID == "" {
		return fmt.Errorf("config.property.id is required")
	}
	if c.Property.Kind != "managed-property" {
		return fmt.Errorf("config.property.kind must be 'managed-property'")
	}
	if c.WorkOrders.CodePrefix == "" {
		return fmt.Errorf("config.workorders.code_prefix is required")
	}
	switch c.WorkOrders.DefaultPriority {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("config.workorders.default_priority must be low, medium or high")
	}
	switch c.Notifications.Strategy {
	case "", "addressed", "broadcast":
	default:
		return fmt.Errorf("config.notifications.strategy must be 'addressed' or 'broadcast'")
	}
	seen := map[string]bool{}
	for _, h := range c.Webhooks {
		if h.Name == "" {
			return fmt.Errorf("webhook entry missing name")
		}
		if seen[h.Name] {
			return fmt.Errorf("duplicate webhook name %s", h.Name)
		}
		seen[h.Name] = true
		if h.URL == "" {
			return fmt.Errorf("webhook %s missing url", h.Name)
		}
	}
	return nil
}

// Strategy returns the effective notification fan-out strategy.
func (c *Config) Strategy() string {
	if c.Notifications.Strategy == "" {
		return "addressed"
	}
	return c.Notifications.Strategy
}

// DefaultPriority returns the priority applied when a request omits one.
func (c *Config) DefaultPriority() string {
	if c.WorkOrders.DefaultPriority == "" {
		return "medium"
	}
	return c.WorkOrders.DefaultPriority
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "atrium.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(propertyID string) string {
	return fmt.Sprintf(defaultTemplate, propertyID)
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

// Default returns the default Config struct for a property.
func Default(propertyID string) *Config {
	var cfg Config
	cfg.Property.ID = propertyID
	cfg.Property.Kind = "managed-property"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, propertyID))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `property:
  id: %s
  kind: managed-property

workorders:
  code_prefix: WO
  default_priority: medium

notifications:
  strategy: addressed
  notify_stakeholders: false
`
