// Package config loads service configuration for flux-based programs.
//
// Configuration is read with Viper from a YAML file found next to the
// service (cmd/<service>/config.yml, config/config.yml or ./config.yml),
// then overridden by environment variables. A .env file, when present, is
// loaded with godotenv first. Nested keys are addressed with underscores:
// FLUX_DEFAULT_CONCURRENCY sets flux.default_concurrency.
//
// # Usage
//
//	type IngestConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Source string `yaml:"source" mapstructure:"source"`
//	}
//
//	cfg, err := config.Load[IngestConfig]("ingest")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Apply(); err != nil {
//	    return err
//	}
package config
