// Package tracing installs an OpenTelemetry OTLP exporter as the global
// tracer provider.
//
// Packages create spans through otel.Tracer and need no reference to this
// package. With tracing disabled the global provider stays the no-op
// default, so spans cost nothing.
//
// Usage:
//
//	tp, err := tracing.Setup(ctx, cfg.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tp.Shutdown(context.Background())
package tracing
