package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

// Source is what the exporter reads on every collection. *authcore.Engine
// satisfies it; tests substitute fixed snapshots.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// sample is one collection's view of the engine. Cumulative latency buckets
// are computed once per histogram even though nine instruments read them.
type sample struct {
	snapshot   authcore.MetricsSnapshot
	dropped    uint64
	cumulative map[authcore.MetricID][8]uint64
}

func (s *sample) buckets(id authcore.MetricID) [8]uint64 {
	if b, ok := s.cumulative[id]; ok {
		return b
	}
	b := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(s.snapshot.Histograms[id]))
	s.cumulative[id] = b
	return b
}

// reading binds an instrument to the value it reports.
type reading struct {
	instrument metric.Int64Observable
	value      func(*sample) int64
}

// Exporter keeps authcore's login, lockout, MFA, token and backup-code
// counters and the Authenticate latency histogram registered on a meter.
type Exporter struct {
	source       Source
	readings     []reading
	registration metric.Registration
}

// New creates the instruments on meter and registers one callback that
// observes all of them. Close unregisters it.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	if e, ok := source.(*authcore.Engine); ok && e == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	if err := e.addCounters(meter); err != nil {
		return nil, err
	}
	if err := e.addLatencyHistograms(meter); err != nil {
		return nil, err
	}
	if err := e.addAuditDropped(meter); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, len(e.readings))
	for i, r := range e.readings {
		observables[i] = r.instrument
	}
	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register authcore metrics callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) addCounters(meter metric.Meter) error {
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		id := def.ID
		e.readings = append(e.readings, reading{
			instrument: ins,
			value:      func(s *sample) int64 { return int64(s.snapshot.Counters[id]) },
		})
	}
	return nil
}

// addLatencyHistograms publishes each histogram as one gauge per le bound
// plus a sample count, mirroring the Prometheus exposition.
func (e *Exporter) addLatencyHistograms(meter metric.Meter) error {
	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			desc := fmt.Sprintf("%s Calls finished within %s seconds.", def.Help, internaldefs.HistogramBounds[i])
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit("{call}"))
			if err != nil {
				return fmt.Errorf("create bucket gauge %s: %w", name, err)
			}
			bucket := i
			e.readings = append(e.readings, reading{
				instrument: ins,
				value:      func(s *sample) int64 { return int64(s.buckets(id)[bucket]) },
			})
		}

		name := def.Name + "_count"
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Total calls observed."), metric.WithUnit("{call}"))
		if err != nil {
			return fmt.Errorf("create count gauge %s: %w", name, err)
		}
		e.readings = append(e.readings, reading{
			instrument: ins,
			value: func(s *sample) int64 {
				b := s.buckets(id)
				return int64(b[len(b)-1])
			},
		})
	}
	return nil
}

func (e *Exporter) addAuditDropped(meter metric.Meter) error {
	name := internaldefs.Namespace + "_audit_dropped_total"
	ins, err := meter.Int64ObservableCounter(name,
		metric.WithDescription("Audit entries discarded because the async dispatcher buffer was full."))
	if err != nil {
		return fmt.Errorf("create counter %s: %w", name, err)
	}
	e.readings = append(e.readings, reading{
		instrument: ins,
		value:      func(s *sample) int64 { return int64(s.dropped) },
	})
	return nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	s := &sample{
		snapshot:   e.source.MetricsSnapshot(),
		dropped:    e.source.AuditDropped(),
		cumulative: make(map[authcore.MetricID][8]uint64, len(internaldefs.HistogramDefs)),
	}
	for _, r := range e.readings {
		o.ObserveInt64(r.instrument, r.value(s))
	}
	return nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
