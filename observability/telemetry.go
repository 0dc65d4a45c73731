package observability

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/kbukum/flux/logger"
	"github.com/kbukum/flux/version"
)

// Telemetry owns the tracer and meter providers of a process and the flux
// instruments recorded on them.
type Telemetry struct {
	// Metrics is nil when metric export could not be started.
	Metrics *FluxMetrics

	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider

	once sync.Once
	err  error
}

// Start installs global tracer and meter providers exporting over OTLP HTTP.
// A nil config skips that signal. When one exporter cannot be created the
// other keeps running and the error is returned next to a usable Telemetry.
func Start(ctx context.Context, tracing *TracerConfig, metrics *MeterConfig) (*Telemetry, error) {
	t := &Telemetry{}
	var errs []error

	if tracing != nil {
		if err := t.startTracing(ctx, tracing); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	if metrics != nil {
		if err := t.startMetrics(ctx, metrics); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	return t, stderrors.Join(errs...)
}

func (t *Telemetry) startTracing(ctx context.Context, cfg *TracerConfig) error {
	res, err := newResource(ctx, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return err
	}
	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return err
	}
	t.tracer = tp
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing started", logger.Fields(
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"sample_rate", cfg.SampleRate,
	))
	return nil
}

func (t *Telemetry) startMetrics(ctx context.Context, cfg *MeterConfig) error {
	res, err := newResource(ctx, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return err
	}
	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		return err
	}
	fm, err := NewFluxMetrics(mp.Meter(instrumentationName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return err
	}
	t.meter = mp
	t.Metrics = fm
	otel.SetMeterProvider(mp)

	logger.Info("metrics started", logger.Fields(
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"interval", cfg.Interval.String(),
	))
	return nil
}

// Shutdown flushes pending spans and a final metric export, then stops both
// providers. Later calls return the first result.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.once.Do(func() {
		var errs []error
		if t.tracer != nil {
			if err := t.tracer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
			}
		}
		if t.meter != nil {
			if err := t.meter.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
			}
		}
		t.err = stderrors.Join(errs...)
	})
	return t.err
}

// newResource describes the process. It carries no schema URL of its own, so
// it merges with the SDK's detected attributes whatever semconv version
// those use.
func newResource(ctx context.Context, serviceName, serviceVersion, environment string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			attribute.String("deployment.environment", environment),
			attribute.String(AttrFluxVersion, version.Get().Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	return res, nil
}
