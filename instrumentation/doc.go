// Package instrumentation provides OpenTelemetry metrics and tracing for the
// OAuth core. When disabled it wires no-op providers so instrumented code
// paths carry zero overhead and no conditionals.
package instrumentation
