// Package tracing provides OpenTelemetry tracing for the gatekeeper.
//
// # Setup
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// Spans are exported over OTLP gRPC to cfg.Endpoint. When tracing is
// disabled New returns a noop tracer, so callers never branch on it.
//
// # HTTP
//
// Tracer.Middleware starts one server span per request and continues any
// W3C trace context (traceparent, tracestate) sent by the caller. The trace
// ID is echoed in the X-Trace-ID response header.
//
// Handlers annotate the current span with SetCallerAttributes and
// SetVerdictAttributes:
//
//	span := tracing.SpanFromContext(ctx)
//	tracing.SetCallerAttributes(span, caller, operation, amount)
//	v := guard.AdmitAmount(ctx, caller, operation, amount)
//	tracing.SetVerdictAttributes(span, v)
//
// # Sampling
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: otel-collector:4317
//	    insecure: true
//	    sampler: ratio      # always, never or ratio
//	    sample_ratio: 0.1
//
// Samplers are parent based: a sampled caller keeps the trace sampled.
package tracing
