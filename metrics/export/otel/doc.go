// Package otel publishes authcore engine metrics through an OpenTelemetry
// Meter supplied by the caller.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge. One callback reads Engine.MetricsSnapshot per
// collection cycle.
package otel
