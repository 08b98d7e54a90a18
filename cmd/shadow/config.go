package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfigPath = "SHADOW_CONFIG"

// Config represents the shadow configuration file (~/.config/shadow/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Backend string `yaml:"backend"`
	Device  *int   `yaml:"device"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`

	WeightsDType string `yaml:"weights_dtype"`
	Batch        *int   `yaml:"batch"`
}

func configPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "shadow", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file is a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyCommonConfig applies config file defaults to the backend and logging
// flags when the corresponding CLI flag was not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.Device != nil && !c.IsSet("device") {
		deviceID = *cfg.Device
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyNetworkConfig(c *cli.Command, cfg Config, batch *int, dtype *string) {
	applyCommonConfig(c, cfg)
	if cfg.Batch != nil && !c.IsSet("batch") {
		*batch = *cfg.Batch
	}
	if dtype != nil && cfg.WeightsDType != "" && !c.IsSet("dtype") {
		*dtype = cfg.WeightsDType
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
