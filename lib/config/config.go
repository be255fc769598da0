// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config path when --config is absent.
const EnvironmentVariable = "BUREAU_CONSOLE_CONFIG"

// HostConfig configures a process that serves its console over a
// Unix socket.
type HostConfig struct {
	// SocketPath is where the console socket is created.
	SocketPath string `yaml:"socket_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// InteractiveAfter is how long after startup the host begins
	// accepting commands, as a Go duration string.
	InteractiveAfter string `yaml:"interactive_after"`

	// Server tunes the console server.
	Server ServerConfig `yaml:"server"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig tunes queueing and compression.
type ServerConfig struct {
	// CompressThreshold is the serialized message size, in bytes, at
	// or above which frames are gzipped. Zero selects the protocol
	// default.
	CompressThreshold int `yaml:"compress_threshold"`

	// OutboundQueueSize bounds each session's pending writes.
	OutboundQueueSize int `yaml:"outbound_queue_size"`

	// BroadcastQueueSize bounds log events awaiting fan-out.
	BroadcastQueueSize int `yaml:"broadcast_queue_size"`
}

// MetricsConfig configures metrics exposition.
type MetricsConfig struct {
	// Listen is the TCP address for /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the configuration used for fields the file omits.
func Default() *HostConfig {
	return &HostConfig{
		SocketPath:       "console.sock",
		LogLevel:         "info",
		InteractiveAfter: "0s",
		Server: ServerConfig{
			CompressThreshold:  1024,
			OutboundQueueSize:  256,
			BroadcastQueueSize: 1024,
		},
	}
}

// Load reads the file named by BUREAU_CONSOLE_CONFIG, or returns the
// defaults when the variable is unset.
func Load() (*HostConfig, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates the configuration at path.
func LoadFile(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return config, nil
}

// Parse decodes data over the defaults. extension selects the syntax:
// ".json" and ".jsonc" strip comments first; YAML is a superset of the
// resulting JSON so a single decoder serves both.
func Parse(data []byte, extension string) (*HostConfig, error) {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports every invalid field.
func (c *HostConfig) Validate() error {
	var errs []error
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.InteractiveDelay(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.CompressThreshold < 0 {
		errs = append(errs, fmt.Errorf("server.compress_threshold must not be negative, got %d", c.Server.CompressThreshold))
	}
	if c.Server.OutboundQueueSize < 1 {
		errs = append(errs, fmt.Errorf("server.outbound_queue_size must be positive, got %d", c.Server.OutboundQueueSize))
	}
	if c.Server.BroadcastQueueSize < 1 {
		errs = append(errs, fmt.Errorf("server.broadcast_queue_size must be positive, got %d", c.Server.BroadcastQueueSize))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *HostConfig) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// InteractiveDelay parses InteractiveAfter.
func (c *HostConfig) InteractiveDelay() (time.Duration, error) {
	delay, err := time.ParseDuration(c.InteractiveAfter)
	if err != nil {
		return 0, fmt.Errorf("interactive_after: %w", err)
	}
	if delay < 0 {
		return 0, fmt.Errorf("interactive_after must not be negative, got %s", c.InteractiveAfter)
	}
	return delay, nil
}
