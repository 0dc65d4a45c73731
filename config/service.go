package config

import (
	"fmt"

	"github.com/kbukum/flux/flux"
	"github.com/kbukum/flux/logger"
	"github.com/kbukum/flux/observability"
	"github.com/kbukum/flux/validation"
)

// ServiceConfig contains the configuration every flux-based service needs.
// Projects extend it by embedding it in their own config structs.
//
// Example:
//
//	type IngestConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Source string `yaml:"source" mapstructure:"source"`
//	}
type ServiceConfig struct {
	Name        string          `yaml:"name" mapstructure:"name" validate:"required"`
	Environment string          `yaml:"environment" mapstructure:"environment" validate:"oneof=development staging production"`
	Version     string          `yaml:"version" mapstructure:"version"`
	Debug       bool            `yaml:"debug" mapstructure:"debug"`
	Logging     logger.Config   `yaml:"logging" mapstructure:"logging"`
	Flux        flux.Config     `yaml:"flux" mapstructure:"flux"`
	Telemetry   TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// TelemetryConfig switches the OpenTelemetry exporters on and configures them.
type TelemetryConfig struct {
	Enabled bool                       `yaml:"enabled" mapstructure:"enabled"`
	Tracing observability.TracerConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics observability.MeterConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// GetServiceConfig returns the base ServiceConfig.
// When embedded in a larger config struct, this method is promoted.
func (c *ServiceConfig) GetServiceConfig() *ServiceConfig {
	return c
}

// ApplyDefaults applies default values to the base configuration.
// Embedding structs that override it should call c.ServiceConfig.ApplyDefaults() first.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()
	c.Flux.ApplyDefaults()
	c.Telemetry.applyDefaults(c.Name, c.Version, c.Environment)
}

func (t *TelemetryConfig) applyDefaults(name, version, env string) {
	tracing := observability.DefaultTracerConfig(name)
	metrics := observability.DefaultMeterConfig(name)

	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = name
	}
	if t.Tracing.ServiceVersion == "" {
		t.Tracing.ServiceVersion = version
	}
	if t.Tracing.Environment == "" {
		t.Tracing.Environment = env
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = tracing.Endpoint
		t.Tracing.Insecure = tracing.Insecure
	}
	if t.Tracing.SampleRate == 0 {
		t.Tracing.SampleRate = tracing.SampleRate
	}

	if t.Metrics.ServiceName == "" {
		t.Metrics.ServiceName = name
	}
	if t.Metrics.ServiceVersion == "" {
		t.Metrics.ServiceVersion = version
	}
	if t.Metrics.Environment == "" {
		t.Metrics.Environment = env
	}
	if t.Metrics.Endpoint == "" {
		t.Metrics.Endpoint = metrics.Endpoint
		t.Metrics.Insecure = metrics.Insecure
	}
	if t.Metrics.Interval == 0 {
		t.Metrics.Interval = metrics.Interval
	}
}

// Validate validates the base configuration fields.
// Embedding structs that override it should call c.ServiceConfig.Validate() first.
func (c *ServiceConfig) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	if err := c.Flux.Validate(); err != nil {
		return fmt.Errorf("config.flux: %w", err)
	}
	return nil
}

// Apply installs the logging and flux settings as process-wide defaults.
func (c *ServiceConfig) Apply() error {
	logger.Init(c.Logging)
	return flux.SetDefaults(c.Flux)
}
