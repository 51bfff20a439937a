// Package observe wires tracing, metrics and structured logging for
// cachegate.
//
// Logging goes through a small Logger interface backed by zerolog with
// automatic redaction of secret-bearing keys. Traces and metrics use
// OpenTelemetry; with the prometheus exporter the Observer also exposes a
// Gatherer for the /metrics endpoint.
package observe
