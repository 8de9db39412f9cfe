package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on every collection. *authcore.Engine satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
	UserCacheLen() int
}

// reading is one collection pass: a snapshot taken once and shared by every binding.
type reading struct {
	snap    authcore.MetricsSnapshot
	buckets map[authcore.MetricID][8]uint64
	source  Source
}

func (r *reading) cumulative(id authcore.MetricID) ([8]uint64, bool) {
	if b, ok := r.buckets[id]; ok {
		return b, true
	}
	raw, ok := r.snap.Histograms[id]
	if !ok {
		return [8]uint64{}, false
	}
	b := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
	r.buckets[id] = b
	return b, true
}

// binding pairs an instrument with how to read its value. ok=false skips the observation.
type binding struct {
	instrument metric.Int64Observable
	read       func(*reading) (v int64, ok bool)
}

// Exporter binds engine counters to observable OpenTelemetry instruments.
type Exporter struct {
	source       Source
	bindings     []binding
	registration metric.Registration
}

// New registers one instrument per exported metric on meter and a single callback that
// reads source.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	e := &Exporter{source: source}

	counter := func(name, help string, read func(*reading) (int64, bool)) error {
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
		if err != nil {
			return fmt.Errorf("create counter %s: %w", name, err)
		}
		e.bindings = append(e.bindings, binding{instrument: ins, read: read})
		return nil
	}
	gauge := func(name, help string, read func(*reading) (int64, bool)) error {
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
		if err != nil {
			return fmt.Errorf("create gauge %s: %w", name, err)
		}
		e.bindings = append(e.bindings, binding{instrument: ins, read: read})
		return nil
	}

	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		if err := counter(def.Name, def.Help, func(r *reading) (int64, bool) {
			return int64(r.snap.Counters[id]), true
		}); err != nil {
			return nil, err
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			slot := i
			if err := gauge(def.Name+"_bucket_le_"+suffix, "Cumulative histogram bucket count.", func(r *reading) (int64, bool) {
				b, ok := r.cumulative(id)
				return int64(b[slot]), ok
			}); err != nil {
				return nil, err
			}
		}
		if err := gauge(def.Name+"_count", "Histogram total sample count.", func(r *reading) (int64, bool) {
			b, ok := r.cumulative(id)
			return int64(b[len(b)-1]), ok
		}); err != nil {
			return nil, err
		}
	}

	if err := counter("authcore_audit_dropped_total", "Audit events dropped by dispatcher backpressure.",
		func(r *reading) (int64, bool) { return int64(r.source.AuditDropped()), true }); err != nil {
		return nil, err
	}
	if err := gauge("authcore_user_cache_entries", "Entries currently held by the user cache.",
		func(r *reading) (int64, bool) { return int64(r.source.UserCacheLen()), true }); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, len(e.bindings))
	for i, b := range e.bindings {
		observables[i] = b.instrument
	}
	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	r := &reading{
		snap:    e.source.MetricsSnapshot(),
		buckets: map[authcore.MetricID][8]uint64{},
		source:  e.source,
	}
	for _, b := range e.bindings {
		if v, ok := b.read(r); ok {
			o.ObserveInt64(b.instrument, v)
		}
	}
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
