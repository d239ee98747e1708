// Package prometheus renders authcore engine metrics in the Prometheus text
// exposition format.
//
// Counters are published as authcore_*_total; the Authenticate latency
// histogram as authcore_authenticate_latency_seconds. The exporter never
// registers anything globally; callers mount [Exporter.Handler].
package prometheus
