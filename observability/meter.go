package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MeterConfig configures periodic export of the flux instruments.
type MeterConfig struct {
	ServiceName    string `yaml:"service_name" mapstructure:"service_name"`
	ServiceVersion string `yaml:"service_version" mapstructure:"service_version"`
	Environment    string `yaml:"environment" mapstructure:"environment"`
	// Endpoint is the OTLP HTTP collector host:port.
	Endpoint string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure bool          `yaml:"insecure" mapstructure:"insecure"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0"`
}

// DefaultMeterConfig points at a local collector with a 15s export interval.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

func newMeterProvider(ctx context.Context, cfg *MeterConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	), nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metric instrument names.
const (
	MetricMergeInflight  = "flux.merge.inflight"
	MetricMergeItems     = "flux.merge.items"
	MetricMergeDuration  = "flux.merge.duration"
	MetricSequenceClosed = "flux.sequence.closed"
)

// FluxMetrics holds the instruments recorded by sequences and the merge
// engine. A nil *FluxMetrics is valid and records nothing.
type FluxMetrics struct {
	mergeInflight  metric.Int64UpDownCounter
	mergeItems     metric.Int64Counter
	mergeDuration  metric.Float64Histogram
	sequenceClosed metric.Int64Counter
}

// NewFluxMetrics creates metric instruments on the given meter.
func NewFluxMetrics(meter metric.Meter) (*FluxMetrics, error) {
	mergeInflight, err := meter.Int64UpDownCounter(MetricMergeInflight,
		metric.WithDescription("Number of unresolved mapper invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s gauge: %w", MetricMergeInflight, err)
	}

	mergeItems, err := meter.Int64Counter(MetricMergeItems,
		metric.WithDescription("Mapper invocations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricMergeItems, err)
	}

	mergeDuration, err := meter.Float64Histogram(MetricMergeDuration,
		metric.WithDescription("Time from mapper invocation to resolution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricMergeDuration, err)
	}

	sequenceClosed, err := meter.Int64Counter(MetricSequenceClosed,
		metric.WithDescription("Sequences closed by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricSequenceClosed, err)
	}

	return &FluxMetrics{
		mergeInflight:  mergeInflight,
		mergeItems:     mergeItems,
		mergeDuration:  mergeDuration,
		sequenceClosed: sequenceClosed,
	}, nil
}

// RecordMapperStart increments the in-flight mapper count.
func (m *FluxMetrics) RecordMapperStart(ctx context.Context, name string) {
	if m == nil {
		return
	}
	m.mergeInflight.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrMergeName, name)))
}

// RecordMapperEnd decrements the in-flight count and records the resolved invocation.
func (m *FluxMetrics) RecordMapperEnd(ctx context.Context, name, status string, duration time.Duration) {
	if m == nil {
		return
	}
	nameAttr := attribute.String(AttrMergeName, name)
	m.mergeInflight.Add(ctx, -1, metric.WithAttributes(nameAttr))
	m.mergeItems.Add(ctx, 1, metric.WithAttributes(nameAttr, attribute.String(AttrStatus, status)))
	m.mergeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(nameAttr))
}

// RecordSequenceClosed counts a sequence reaching its terminal condition.
func (m *FluxMetrics) RecordSequenceClosed(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.sequenceClosed.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
}
