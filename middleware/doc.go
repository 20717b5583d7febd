// Package middleware provides composable middleware around workflow step
// execution.
//
// A [Middleware] wraps a step handler. Middleware are composed with [Chain]
// and applied to every step a workflow runs. They are applied right-to-left:
// the first middleware in the slice is the outermost wrapper.
//
//	// recover → logging → step
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs step name, run and outcome
//   - [Recover] converts panics into errors
//   - [Timeout] bounds each step with a deadline
//   - [Tracing] wraps the step in an OpenTelemetry span
//   - [Metrics] records step duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
