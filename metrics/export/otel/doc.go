// Package otel binds engine metrics to OpenTelemetry observable instruments.
//
// [New] registers an Int64ObservableCounter per engine counter, an Int64ObservableGauge
// per latency bucket, and a gauge for user cache size. One callback reads the engine
// snapshot on each collection cycle. Callers own the MeterProvider.
package otel
