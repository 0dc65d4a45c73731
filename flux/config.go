package flux

import (
	"sync/atomic"

	"github.com/kbukum/flux/observability"
	"github.com/kbukum/flux/validation"
)

// Config holds package-wide defaults. It is usually loaded as the "flux"
// block of a service configuration.
type Config struct {
	// DefaultConcurrency bounds FlatMap when WithConcurrency is not given.
	// Zero means unlimited.
	DefaultConcurrency int `yaml:"default_concurrency" mapstructure:"default_concurrency" validate:"gte=0"`
	// DefaultMergeName labels FlatMap spans and metrics when WithName is not given.
	DefaultMergeName string `yaml:"default_merge_name" mapstructure:"default_merge_name" validate:"omitempty,max=64"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.DefaultMergeName == "" {
		c.DefaultMergeName = "flatmap"
	}
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	return validation.Validate(c)
}

var (
	defaults atomic.Pointer[Config]
	metrics  atomic.Pointer[observability.FluxMetrics]
)

func init() {
	cfg := Config{}
	cfg.ApplyDefaults()
	defaults.Store(&cfg)
}

// SetDefaults validates cfg and installs it as the package defaults.
func SetDefaults(cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	defaults.Store(&cfg)
	return nil
}

// Defaults returns the current package defaults.
func Defaults() Config {
	return *defaults.Load()
}

// SetMetrics installs the instruments used by every sequence and by FlatMap
// calls without WithMetrics. Pass nil to stop recording.
func SetMetrics(m *observability.FluxMetrics) {
	metrics.Store(m)
}

func currentMetrics() *observability.FluxMetrics {
	return metrics.Load()
}
