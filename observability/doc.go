// Package observability provides OpenTelemetry tracing and metrics for flux
// pipelines.
//
// Start installs OTLP HTTP exporters for both signals and builds the flux
// instruments on the new meter provider:
//
//	tracing := observability.DefaultTracerConfig("fluxcat")
//	metrics := observability.DefaultMeterConfig("fluxcat")
//	tel, err := observability.Start(ctx, &tracing, &metrics)
//	defer tel.Shutdown(ctx)
//	flux.SetMetrics(tel.Metrics)
//
// Mapper invocations and SQL queries open spans through StartSpan:
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanFlatMapItem)
//	defer span.End()
package observability
