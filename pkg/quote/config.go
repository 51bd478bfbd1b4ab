package quote

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes the quote providers available to the application.
type Config struct {
	Default   string                     `yaml:"default"`
	Providers map[string]*ProviderConfig `yaml:"providers"`
}

// ProviderConfig represents configuration for a single quote provider.
type ProviderConfig struct {
	Type string `yaml:"type"`

	ChartURL  string `yaml:"chart_url"`
	SearchURL string `yaml:"search_url"`
	LogoURL   string `yaml:"logo_url"`

	HTTPTimeoutRaw string        `yaml:"http_timeout"`
	HTTPTimeout    time.Duration `yaml:"-"`
	MaxRetries     int           `yaml:"max_retries"`
}

// LoadConfig reads provider configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open quote config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read quote config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal quote config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a config with a single chart provider using built-in
// endpoints, for deployments that ship no quote config file.
func DefaultConfig() *Config {
	return &Config{
		Default: "chart",
		Providers: map[string]*ProviderConfig{
			"chart": {Type: "chart"},
		},
	}
}

func (c *Config) normalise() error {
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	for name, provider := range c.Providers {
		if provider == nil {
			provider = &ProviderConfig{}
			c.Providers[name] = provider
		}
		provider.expandEnv()
		if err := provider.parseDurations(name); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProviderConfig) expandEnv() {
	p.Type = strings.TrimSpace(os.ExpandEnv(p.Type))
	p.ChartURL = strings.TrimSpace(os.ExpandEnv(p.ChartURL))
	p.SearchURL = strings.TrimSpace(os.ExpandEnv(p.SearchURL))
	p.LogoURL = strings.TrimSpace(os.ExpandEnv(p.LogoURL))
	p.HTTPTimeoutRaw = strings.TrimSpace(os.ExpandEnv(p.HTTPTimeoutRaw))
}

func (p *ProviderConfig) parseDurations(name string) error {
	if p.HTTPTimeoutRaw == "" {
		return nil
	}
	d, err := time.ParseDuration(p.HTTPTimeoutRaw)
	if err != nil {
		return fmt.Errorf("quote provider %s: invalid http_timeout %q: %w", name, p.HTTPTimeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("quote provider %s: http_timeout must be positive, got %s", name, d)
	}
	p.HTTPTimeout = d
	return nil
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("quote config: providers cannot be empty")
	}
	if c.Default != "" {
		if _, ok := c.Providers[c.Default]; !ok {
			return fmt.Errorf("quote config: default provider %q not defined", c.Default)
		}
	}
	for name, provider := range c.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("quote config: provider name cannot be empty")
		}
		if err := provider.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProviderConfig) validate(name string) error {
	if p == nil {
		return fmt.Errorf("quote config: provider %s is nil", name)
	}
	if strings.TrimSpace(p.Type) == "" {
		return fmt.Errorf("quote config: provider %s must specify type", name)
	}
	if _, ok := lookupProviderBuilder(p.Type); !ok {
		return fmt.Errorf("quote config: provider %s has unsupported type %q", name, p.Type)
	}
	return nil
}

// BuildProviders instantiates quote providers according to configuration.
func (c *Config) BuildProviders() (map[string]Provider, error) {
	result := make(map[string]Provider, len(c.Providers))
	for name, providerCfg := range c.Providers {
		builder, ok := lookupProviderBuilder(providerCfg.Type)
		if !ok {
			return nil, fmt.Errorf("quote provider %s: unsupported type %q", name, providerCfg.Type)
		}
		provider, err := builder(name, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("quote provider %s: %w", name, err)
		}
		result[name] = provider
	}
	return result, nil
}

// DefaultProvider resolves the configured default provider from a built map.
func (c *Config) DefaultProvider(providers map[string]Provider) (Provider, error) {
	name := c.Default
	if name == "" && len(providers) == 1 {
		for only := range providers {
			name = only
		}
	}
	provider, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("quote config: default provider %q not built", name)
	}
	return provider, nil
}
