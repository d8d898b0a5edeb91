package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the yaml configuration file shape. Every field has a
// working default; the file is optional.
type Config struct {
	Realtime struct {
		SweepIntervalSec int `yaml:"sweep_interval_sec"`
		IdleTimeoutSec   int `yaml:"idle_timeout_sec"`
		SendBufferSize   int `yaml:"send_buffer_size"`
	} `yaml:"realtime"`
	Events struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		ConsumerName  string `yaml:"consumer_name"`
		SubjectFilter string `yaml:"subject_filter"`
	} `yaml:"events"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// sweepInterval returns the configured sweep interval or the default.
func (c *Config) sweepInterval(fallback time.Duration) time.Duration {
	if c.Realtime.SweepIntervalSec > 0 {
		return time.Duration(c.Realtime.SweepIntervalSec) * time.Second
	}
	return fallback
}

// idleTimeout returns the configured idle timeout or the default.
func (c *Config) idleTimeout(fallback time.Duration) time.Duration {
	if c.Realtime.IdleTimeoutSec > 0 {
		return time.Duration(c.Realtime.IdleTimeoutSec) * time.Second
	}
	return fallback
}
