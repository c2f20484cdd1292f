package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config models gigline.yml. Billing ratios and the fallback duration are
// deployment constants, not per-project knobs.
type Config struct {
	Billing struct {
		// UpfrontRatio is the completion-model upfront share (0..1 exclusive).
		UpfrontRatio string `yaml:"upfront_ratio"`
		// DefaultDurationWeeks guards activation against gigs with missing
		// or invalid durations.
		DefaultDurationWeeks string `yaml:"default_duration_weeks"`
	} `yaml:"billing"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one notification consumer endpoint.
type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Enabled *bool    `yaml:"enabled"`
}

// UpfrontRatio returns the parsed ratio. Call Validate before trusting it.
func (c *Config) UpfrontRatio() decimal.Decimal {
	d, err := decimal.NewFromString(c.Billing.UpfrontRatio)
	if err != nil {
		return decimal.RequireFromString(defaultUpfrontRatio)
	}
	return d
}

// DefaultDurationWeeks returns the parsed fallback duration.
func (c *Config) DefaultDurationWeeks() decimal.Decimal {
	d, err := decimal.NewFromString(c.Billing.DefaultDurationWeeks)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	ratio, err := decimal.NewFromString(c.Billing.UpfrontRatio)
	if err != nil {
		return fmt.Errorf("billing.upfront_ratio %q is not a decimal", c.Billing.UpfrontRatio)
	}
	if ratio.LessThanOrEqual(decimal.Zero) || ratio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("billing.upfront_ratio must be between 0 and 1 exclusive, got %s", ratio)
	}
	weeks, err := decimal.NewFromString(c.Billing.DefaultDurationWeeks)
	if err != nil {
		return fmt.Errorf("billing.default_duration_weeks %q is not a decimal", c.Billing.DefaultDurationWeeks)
	}
	if weeks.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("billing.default_duration_weeks must be positive, got %s", weeks)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigline.yml")
}

// Load reads and validates config from the workspace, falling back to the
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Billing.UpfrontRatio == "" {
		cfg.Billing.UpfrontRatio = defaultUpfrontRatio
	}
	if cfg.Billing.DefaultDurationWeeks == "" {
		cfg.Billing.DefaultDurationWeeks = "1"
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

const defaultUpfrontRatio = "0.12"

const defaultTemplate = `billing:
  upfront_ratio: "0.12"
  default_duration_weeks: "1"

webhooks: []
`
