// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// When disabled (the default), no-op providers are used and the overhead is
// negligible. Callers that want exported telemetry pass their own SDK
// providers through Config; the package never configures exporters itself.
package instrumentation
