// SPDX-License-Identifier: MIT

// Package config holds the tunables of the coordination layer. The host
// application constructs a Config (directly or from YAML) and passes it
// into the constructors; nothing here is global.
package config

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Chunked   ChunkedConfig   `yaml:"chunked"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SchedulerConfig bounds the operation scheduler.
type SchedulerConfig struct {
	MaxConcurrent  int64    `yaml:"max_concurrent"`
	DefaultTimeout Duration `yaml:"default_timeout"`
}

// ChunkedConfig tunes the framing layer.
type ChunkedConfig struct {
	ReservedOverhead int `yaml:"reserved_overhead"`
	DefaultUnitSize  int `yaml:"default_unit_size"`
	// MaxMessageSize caps the framed bytes accumulated per channel while
	// waiting for a message boundary.
	MaxMessageSize int `yaml:"max_message_size"`
	// SendRate paces outbound fragments in fragments/second across all
	// peers; zero disables the global budget.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
	// PeerSendRate paces each peer independently; zero disables the
	// per-peer budget.
	PeerSendRate  float64 `yaml:"peer_send_rate"`
	PeerSendBurst int     `yaml:"peer_send_burst"`
}

// LifecycleConfig tunes the group-formation manager.
type LifecycleConfig struct {
	FormTimeout   Duration `yaml:"form_timeout"`
	RemoveTimeout Duration `yaml:"remove_timeout"`
}

// Default returns the configuration used when the host supplies nothing.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Scheduler: SchedulerConfig{
			MaxConcurrent:  4,
			DefaultTimeout: Duration(10 * time.Second),
		},
		Chunked: ChunkedConfig{
			ReservedOverhead: 3,
			DefaultUnitSize:  23,
			MaxMessageSize:   64 * 1024,
			SendBurst:        1,
		},
		Lifecycle: LifecycleConfig{
			FormTimeout:   Duration(30 * time.Second),
			RemoveTimeout: Duration(10 * time.Second),
		},
	}
}

// FromYAML decodes cfg over the defaults and validates the result.
func FromYAML(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the coordination layer cannot run with.
func (c Config) Validate() error {
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("config: scheduler.max_concurrent must be positive, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Scheduler.DefaultTimeout <= 0 {
		return fmt.Errorf("config: scheduler.default_timeout must be positive, got %v", c.Scheduler.DefaultTimeout)
	}
	if c.Chunked.ReservedOverhead < 0 {
		return fmt.Errorf("config: chunked.reserved_overhead must not be negative, got %d", c.Chunked.ReservedOverhead)
	}
	if c.Chunked.DefaultUnitSize <= c.Chunked.ReservedOverhead {
		return fmt.Errorf("config: chunked.default_unit_size %d leaves no payload after overhead %d",
			c.Chunked.DefaultUnitSize, c.Chunked.ReservedOverhead)
	}
	if c.Chunked.MaxMessageSize <= 0 {
		return fmt.Errorf("config: chunked.max_message_size must be positive, got %d", c.Chunked.MaxMessageSize)
	}
	if c.Chunked.SendRate < 0 {
		return fmt.Errorf("config: chunked.send_rate must not be negative, got %v", c.Chunked.SendRate)
	}
	if c.Chunked.PeerSendRate < 0 {
		return fmt.Errorf("config: chunked.peer_send_rate must not be negative, got %v", c.Chunked.PeerSendRate)
	}
	if c.Lifecycle.FormTimeout <= 0 || c.Lifecycle.RemoveTimeout <= 0 {
		return fmt.Errorf("config: lifecycle timeouts must be positive")
	}
	return nil
}
