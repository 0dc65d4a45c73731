package flux

import (
	"github.com/kbukum/flux/observability"
	"github.com/kbukum/flux/validation"
)

// FlatMapOption configures FlatMap.
type FlatMapOption func(*flatMapConfig)

type flatMapConfig struct {
	concurrency int
	name        string
	metrics     *observability.FluxMetrics
}

// WithConcurrency caps the number of unresolved mapper invocations.
// Zero means unlimited. Fixed-list mappers ignore the cap.
func WithConcurrency(k int) FlatMapOption {
	return func(c *flatMapConfig) {
		c.concurrency = k
	}
}

// WithName labels the merge in logs, spans and metrics.
func WithName(name string) FlatMapOption {
	return func(c *flatMapConfig) {
		c.name = name
	}
}

// WithMetrics records merge instruments on m instead of the package metrics.
func WithMetrics(m *observability.FluxMetrics) FlatMapOption {
	return func(c *flatMapConfig) {
		c.metrics = m
	}
}

func newFlatMapConfig(opts []FlatMapOption) flatMapConfig {
	d := Defaults()
	cfg := flatMapConfig{
		concurrency: d.DefaultConcurrency,
		name:        d.DefaultMergeName,
		metrics:     currentMetrics(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c flatMapConfig) validate() error {
	return validation.New().
		NonNegative("concurrency", c.concurrency).
		Name("name", c.name).
		Err()
}

// SourceOption configures a source built with FromFunc or FromStream.
type SourceOption func(*sourceConfig)

type sourceConfig struct {
	onCancel func(reason error)
}

// OnCancel installs fn as the source's cancellation hook. Cancelling the
// chain then calls fn instead of failing the next pull, and the generator
// decides how to end: a generator that stops yielding exhausts the sequence.
func OnCancel(fn func(reason error)) SourceOption {
	return func(c *sourceConfig) {
		c.onCancel = fn
	}
}

func newSourceConfig(opts []SourceOption) sourceConfig {
	var cfg sourceConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
