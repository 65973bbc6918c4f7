package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// FileName is the project configuration file
	FileName = "wirepage.yaml"
	// LegacyFileName is read when FileName does not exist
	LegacyFileName = "wirepage.json"
)

// Config represents the wirepage.yaml configuration
type Config struct {
	// Directory holding the .wire pages
	PagesDir string `yaml:"pagesDir,omitempty" json:"pagesDir,omitempty"`

	// Build output directory with the manifest and compiled artifacts
	OutDir string `yaml:"outDir,omitempty" json:"outDir,omitempty"`

	// Server address
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Debug enables the development error page and library debug logs
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`

	// Spa enables the pjax meta block; unset leaves it to each page
	Spa *bool `yaml:"spa,omitempty" json:"spa,omitempty"`

	// URL of the client runtime injected into pages
	ClientScript string `yaml:"clientScript,omitempty" json:"clientScript,omitempty"`

	// Live transport codec: json or msgpack
	Codec string `yaml:"codec,omitempty" json:"codec,omitempty"`

	Watch *WatchConfig `yaml:"watch,omitempty" json:"watch,omitempty"`
	Build *BuildConfig `yaml:"build,omitempty" json:"build,omitempty"`
}

// WatchConfig contains dev watcher configuration
type WatchConfig struct {
	// Glob patterns matched against file and directory names
	Ignore []string `yaml:"ignore,omitempty" json:"ignore,omitempty"`
}

// BuildConfig contains build configuration
type BuildConfig struct {
	// Whether to show the interactive progress dashboard
	TUI bool `yaml:"tui" json:"tui"`
}

// Load loads configuration from wirepage.yaml, or wirepage.json when
// only that exists. A project without either gets the defaults.
func Load(projectPath string) (*Config, error) {
	var config Config

	yamlPath := filepath.Join(projectPath, FileName)
	jsonPath := filepath.Join(projectPath, LegacyFileName)
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	} else if data, err := os.ReadFile(jsonPath); err == nil {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", LegacyFileName, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	} else {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&config)

	return &config, nil
}

// Save saves configuration to wirepage.yaml
func Save(config *Config, projectPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(projectPath, FileName), data, 0644)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		PagesDir: "pages",
		OutDir:   filepath.Join(".wirepage", "build"),
		Port:     8080,
		Host:     "localhost",
		Codec:    "json",
		Watch: &WatchConfig{
			Ignore: []string{".*", "node_modules", "*~", "*.swp"},
		},
		Build: &BuildConfig{},
	}
}

// applyDefaults applies default values to missing configuration
func applyDefaults(config *Config) {
	defaults := DefaultConfig()

	if config.PagesDir == "" {
		config.PagesDir = defaults.PagesDir
	}
	if config.OutDir == "" {
		config.OutDir = defaults.OutDir
	}
	if config.Port == 0 {
		config.Port = defaults.Port
	}
	if config.Host == "" {
		config.Host = defaults.Host
	}
	if config.Codec == "" {
		config.Codec = defaults.Codec
	}
	if config.Watch == nil {
		config.Watch = defaults.Watch
	}
	if config.Build == nil {
		config.Build = defaults.Build
	}
}

// Validate checks the configuration for values the commands cannot use
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Codec {
	case "", "json", "msgpack":
	default:
		return fmt.Errorf("unknown codec %q (expected json or msgpack)", c.Codec)
	}
	if c.Watch != nil {
		for _, pattern := range c.Watch.Ignore {
			if _, err := filepath.Match(pattern, ""); err != nil {
				return fmt.Errorf("invalid watch.ignore pattern %q: %w", pattern, err)
			}
		}
	}
	return nil
}

// Ignored reports whether the watcher skips a file or directory name
func (c *Config) Ignored(name string) bool {
	if c.Watch == nil {
		return false
	}
	for _, pattern := range c.Watch.Ignore {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Addr returns the host:port the servers listen on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
