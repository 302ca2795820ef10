// Package config holds the feeder daemon's configuration: built-in
// defaults, optionally overlaid by a YAML file for deployments that
// prefer a config file over a long flag line. The daemon applies any
// command-line flags it was given on top of the result.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the feeder daemon. Default fills in the
// standard values (TCP port 5555, metrics on :9090, console on :8089); a
// zero Config has every field empty.
type Config struct {
	TCPAddr     string `yaml:"tcp_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	MonitorAddr string `yaml:"monitor_addr"`
	LogLevel    string `yaml:"log_level"`
	LogColor    bool   `yaml:"log_color"`
}

// Default returns the spec-mandated defaults.
func Default() Config {
	return Config{
		TCPAddr:     ":5555",
		MetricsAddr: ":9090",
		MonitorAddr: ":8089",
		LogLevel:    "info",
		LogColor:    true,
	}
}

// LoadYAML overlays cfg with any fields present in the YAML file at
// path. A missing file is not an error: the caller is expected to
// probe for an optional config file.
func LoadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
