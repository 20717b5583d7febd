// Package observability provides an OpenTelemetry metrics extension for
// signoff. The MetricsExtension implements lifecycle hooks to record
// counters for workflow runs, version appends, human tasks, decisions
// and wait resolutions.
//
// For per-step tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
