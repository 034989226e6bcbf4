package plugin

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManagerConfig describes how the plugin manager should behave.
type ManagerConfig struct {
	// MaxPlugins caps the number of installed plugins. Zero means unlimited.
	MaxPlugins int `yaml:"maxPlugins"`
	// EnableOnLoad enables every plugin right after a successful install.
	EnableOnLoad bool                    `yaml:"enableOnLoad"`
	PluginDir    string                  `yaml:"pluginDir"`
	Discovery    DiscoveryConfig         `yaml:"discovery"`
	Plugins      map[string]PluginConfig `yaml:"plugins"`
}

// DiscoveryConfig controls the filesystem scan for plugin binaries.
type DiscoveryConfig struct {
	Roots    []string `yaml:"roots"`
	Patterns []string `yaml:"patterns"`
	AutoLoad bool     `yaml:"autoLoad"`
}

// PluginConfig is the configuration block for a single plugin binary.
type PluginConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadManagerConfig reads a YAML file into a ManagerConfig.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginConfig{}
	}
	return cfg, cfg.Validate()
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	if c.MaxPlugins < 0 {
		return errors.New("maxPlugins cannot be negative")
	}
	if c.Discovery.AutoLoad && len(c.Discovery.Roots) == 0 {
		return errors.New("discovery.autoLoad requires at least one root")
	}
	for id, plugin := range c.Plugins {
		if id == "" {
			return errors.New("plugin id cannot be empty")
		}
		if !plugin.Enabled {
			continue
		}
		if plugin.Path == "" {
			return fmt.Errorf("plugin %s path cannot be empty when enabled", id)
		}
	}
	return nil
}
