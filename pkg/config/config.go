// Package config loads the optional kabap.yaml configuration used by
// the CLI and the REST service.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration. Extensions names the optional
// capability extensions to register; the sandbox stays closed unless the
// host lists them here.
type Config struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Scale      int      `yaml:"scale"`
	Watchdog   int      `yaml:"watchdog"`
	Extensions []string `yaml:"extensions"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Host:     "0.0.0.0",
		Port:     8700,
		Scale:    -1, // engine default
		Watchdog: -1, // engine default
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	for _, name := range cfg.Extensions {
		switch name {
		case "file", "net":
		default:
			return cfg, fmt.Errorf("config: unknown extension %q", name)
		}
	}
	return cfg, nil
}
