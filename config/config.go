// Package config resolves the settings of the preloader client.
package config

import (
	"fmt"
	"os"

	"github.com/docker/go-connections/nat"
	"github.com/guseggert/preloader/client"
	"github.com/guseggert/preloader/internal/files"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config file looked up from the working directory towards the root.
	FileName = ".preloader.yaml"
	// EnvPort overrides the port from the config file.
	EnvPort = "PRELOADER_PORT"
)

type Config struct {
	// Port is the control port of the execution service.
	Port int `yaml:"port"`

	// Source is the config file that was read, if any.
	Source string `yaml:"-"`
}

// Load resolves the configuration for a client started in dir.
// Precedence, highest first: the EnvPort variable, the nearest FileName, the defaults.
func Load(dir string) (*Config, error) {
	cfg := &Config{Port: client.DefaultPort}

	path, err := files.FindUp(FileName, dir)
	if err != nil {
		return nil, fmt.Errorf("looking for %s: %w", FileName, err)
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv(EnvPort); v != "" {
		port, err := ParsePort(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Port = port
	}
	return cfg, nil
}

// LoadFile reads the configuration from path, ignoring the environment.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{Port: client.DefaultPort}
	if err := cfg.readFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	var raw struct {
		Port string `yaml:"port"`
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if raw.Port != "" {
		port, err := ParsePort(raw.Port)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		c.Port = port
	}
	c.Source = path
	return nil
}

// ParsePort parses a TCP port number in the range 0-65535.
func ParsePort(s string) (int, error) {
	port, err := nat.ParsePort(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port number %q, should be in 0-65535", s)
	}
	return port, nil
}
