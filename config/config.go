// Package config loads the replicant service configuration.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

const DefaultNamespace = "/"
const DefaultRoomPrefix = "replicants/"
const DefaultMaxHistory = 100

// Config for a replicant server or client process.
type Config struct {
	Namespace  string `yaml:"namespace"`
	RoomPrefix string `yaml:"room_prefix"`
	MaxHistory int    `yaml:"max_history"`
	ListenAddr string `yaml:"listen_addr"`
	ServerURL  string `yaml:"server_url"`
}

// Unmarshal parses a YAML configuration, applying defaults first.
func Unmarshal(config []byte) (*Config, error) {
	cfg := &Config{
		Namespace:  DefaultNamespace,
		RoomPrefix: DefaultRoomPrefix,
		MaxHistory: DefaultMaxHistory,
	}
	if err := yaml.Unmarshal(config, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads and parses a config file.
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString loads and parses config content already in memory.
func LoadConfigString(content []byte) (*Config, error) {
	return Unmarshal(content)
}

func (c *Config) validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if c.RoomPrefix == "" {
		return fmt.Errorf("room_prefix must not be empty")
	}
	if c.MaxHistory < 2 {
		return fmt.Errorf("max_history must be at least 2 (positions 0 and 1 are load-bearing)")
	}
	return nil
}
