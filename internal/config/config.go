// Package config loads objstore CLI settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/objstore/internal/logger"
)

// Defaults used when neither the config file nor a flag sets a value.
const (
	DefaultDirectory = ".objstore"
	DefaultLogLevel  = "warn"
	DefaultFormat    = "text"
)

// Config holds the settings shared by every objstore command.
type Config struct {
	// Directory is the storage directory name below Home.
	Directory string `yaml:"directory"`
	// Home overrides the user's home directory. Empty means os.UserHomeDir.
	Home     string `yaml:"home,omitempty"`
	LogLevel string `yaml:"log_level"`
	Format   string `yaml:"format"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Directory: DefaultDirectory,
		LogLevel:  DefaultLogLevel,
		Format:    DefaultFormat,
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is true.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Directory) == "" {
		return errors.New("directory can not be blank")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format: %s (must be 'text' or 'json')", c.Format)
	}
	return nil
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}
