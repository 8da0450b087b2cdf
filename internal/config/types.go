// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/invowk/cougar/internal/venue"
	"github.com/invowk/cougar/pkg/operation"
)

var (
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidFormat is returned for an unknown output format.
	ErrInvalidFormat = errors.New("invalid config format")
)

type (
	// Config is the complete venue configuration.
	Config struct {
		Venue     VenueConfig      `json:"venue" yaml:"venue" toml:"venue" mapstructure:"venue"`
		Timeouts  map[string]int64 `json:"timeouts,omitempty" yaml:"timeouts,omitempty" toml:"timeouts,omitempty" mapstructure:"timeouts"`
		Executor  ExecutorConfig   `json:"executor" yaml:"executor" toml:"executor" mapstructure:"executor"`
		QoS       QoSConfig        `json:"qos" yaml:"qos" toml:"qos" mapstructure:"qos"`
		Identity  IdentityConfig   `json:"identity" yaml:"identity" toml:"identity" mapstructure:"identity"`
		Transport TransportConfig  `json:"transport" yaml:"transport" toml:"transport" mapstructure:"transport"`
		Logging   LoggingConfig    `json:"logging" yaml:"logging" toml:"logging" mapstructure:"logging"`
		Metrics   MetricsConfig    `json:"metrics" yaml:"metrics" toml:"metrics" mapstructure:"metrics"`
	}

	// VenueConfig holds dispatch and shutdown limits.
	VenueConfig struct {
		DefaultMaxExecutionTimeMs int64 `json:"default_max_execution_time_ms" yaml:"default_max_execution_time_ms" toml:"default_max_execution_time_ms" mapstructure:"default_max_execution_time_ms"`
		DrainTimeoutMs            int64 `json:"drain_timeout_ms" yaml:"drain_timeout_ms" toml:"drain_timeout_ms" mapstructure:"drain_timeout_ms"`
	}

	// ExecutorConfig sizes the worker pool used by transports.
	ExecutorConfig struct {
		Workers   int `json:"workers" yaml:"workers" toml:"workers" mapstructure:"workers"`
		QueueSize int `json:"queue_size" yaml:"queue_size" toml:"queue_size" mapstructure:"queue_size"`
	}

	// QoSConfig configures the rate-limiting pre-processor.
	QoSConfig struct {
		Enabled   bool    `json:"enabled" yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
		RPS       float64 `json:"rps" yaml:"rps" toml:"rps" mapstructure:"rps"`
		Burst     int     `json:"burst" yaml:"burst" toml:"burst" mapstructure:"burst"`
		PerCaller bool    `json:"per_caller" yaml:"per_caller" toml:"per_caller" mapstructure:"per_caller"`
	}

	// IdentityConfig configures the identity resolution cache.
	IdentityConfig struct {
		CacheTTLMs    int64  `json:"cache_ttl_ms" yaml:"cache_ttl_ms" toml:"cache_ttl_ms" mapstructure:"cache_ttl_ms"`
		CacheCapacity uint64 `json:"cache_capacity" yaml:"cache_capacity" toml:"cache_capacity" mapstructure:"cache_capacity"`
	}

	// TransportConfig holds listener addresses; empty disables a transport.
	TransportConfig struct {
		HTTPAddr string `json:"http_addr" yaml:"http_addr" toml:"http_addr" mapstructure:"http_addr"`
		SSHAddr  string `json:"ssh_addr" yaml:"ssh_addr" toml:"ssh_addr" mapstructure:"ssh_addr"`
	}

	// LoggingConfig selects the log level.
	LoggingConfig struct {
		Level string `json:"level" yaml:"level" toml:"level" mapstructure:"level"`
	}

	// MetricsConfig toggles the Prometheus endpoint.
	MetricsConfig struct {
		Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
	}

	// InvalidConfigError names the offending field.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		Field  string
		Reason string
	}

	// Format is a rendering format for Render.
	Format string

	// InvalidFormatError is returned for an unknown Format.
	InvalidFormatError struct {
		Value Format
	}
)

const (
	FormatCUE  Format = "cue"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Venue: VenueConfig{
			DefaultMaxExecutionTimeMs: 0,
			DrainTimeoutMs:            venue.DefaultDrainTimeout.Milliseconds(),
		},
		Executor: ExecutorConfig{Workers: 8, QueueSize: 256},
		QoS:      QoSConfig{Enabled: false, RPS: 1000, Burst: 100},
		Identity: IdentityConfig{CacheTTLMs: 60_000, CacheCapacity: 10_000},
		Transport: TransportConfig{
			HTTPAddr: "127.0.0.1:8080",
			SSHAddr:  "",
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate checks the rules the schema cannot express on values that may
// have come from the environment.
func (c *Config) Validate() error {
	switch {
	case c.Venue.DefaultMaxExecutionTimeMs < 0:
		return &InvalidConfigError{Field: "venue.default_max_execution_time_ms", Reason: "must not be negative"}
	case c.Venue.DrainTimeoutMs < 0:
		return &InvalidConfigError{Field: "venue.drain_timeout_ms", Reason: "must not be negative"}
	case c.Executor.Workers < 1:
		return &InvalidConfigError{Field: "executor.workers", Reason: "must be at least 1"}
	case c.Executor.QueueSize < 1:
		return &InvalidConfigError{Field: "executor.queue_size", Reason: "must be at least 1"}
	case c.QoS.Enabled && c.QoS.RPS <= 0:
		return &InvalidConfigError{Field: "qos.rps", Reason: "must be positive when qos is enabled"}
	case c.QoS.Enabled && c.QoS.Burst < 1:
		return &InvalidConfigError{Field: "qos.burst", Reason: "must be at least 1 when qos is enabled"}
	case c.Identity.CacheTTLMs < 0:
		return &InvalidConfigError{Field: "identity.cache_ttl_ms", Reason: "must not be negative"}
	}
	for k, ms := range c.Timeouts {
		if ms < 0 {
			return &InvalidConfigError{Field: "timeouts." + k, Reason: "must not be negative"}
		}
		if _, err := operation.ParseKey(k); err != nil {
			return &InvalidConfigError{Field: "timeouts." + k, Reason: err.Error()}
		}
	}
	return nil
}

// DefaultMaxExecutionTime is the watchdog limit for operations without a
// configured timeout.
func (c *Config) DefaultMaxExecutionTime() time.Duration {
	return time.Duration(c.Venue.DefaultMaxExecutionTimeMs) * time.Millisecond
}

// DrainTimeout bounds graceful shutdown.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Venue.DrainTimeoutMs) * time.Millisecond
}

// IdentityCacheTTL is how long a resolved identity chain is reused.
func (c *Config) IdentityCacheTTL() time.Duration {
	return time.Duration(c.Identity.CacheTTLMs) * time.Millisecond
}

// TimeoutMap converts the per-operation timeouts for the venue.
func (c *Config) TimeoutMap() venue.TimeoutMap {
	m := make(venue.TimeoutMap, len(c.Timeouts))
	for k, ms := range c.Timeouts {
		m[k] = time.Duration(ms) * time.Millisecond
	}
	return m
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidConfig.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate returns an error if f is not a known format.
func (f Format) Validate() error {
	switch f {
	case FormatCUE, FormatTOML, FormatYAML:
		return nil
	default:
		return &InvalidFormatError{Value: f}
	}
}

// Error implements the error interface.
func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid config format %q (valid: cue, toml, yaml)", e.Value)
}

// Unwrap returns ErrInvalidFormat.
func (e *InvalidFormatError) Unwrap() error { return ErrInvalidFormat }
