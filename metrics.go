package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID indexes an engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricLoginServiceError
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricVerifySuccess
	MetricVerifyFailure
	MetricUserCacheHit
	MetricUserCacheMiss
	MetricSessionCreated
	MetricSessionInvalidated
	MetricLogout
	MetricLogoutAll
	MetricUserCreated
	MetricUserDeactivated
	MetricProfileUpdated
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPasswordRehashed
	MetricRateLimitHit
	// MetricVerifyLatency is the only histogram-backed metric.
	MetricVerifyLatency
	metricIDCount
)

// LatencyBuckets are the inclusive upper bounds of the verify latency histogram.
// Slower observations land in a final overflow bucket.
var LatencyBuckets = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencySlots = len(LatencyBuckets) + 1

// counter sits alone on its cache line so hot counters do not false-share.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free engine counters and the verify latency histogram.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled bool
	latency bool

	counters [metricIDCount]counter
	verify   [latencySlots]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the verify latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.latency
}

func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d. Only MetricVerifyLatency is histogram-backed; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricVerifyLatency {
		return
	}
	m.verify[latencySlot(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter. Disabled metrics produce empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id != MetricVerifyLatency {
			snap.Counters[id] = m.counters[id].Load()
		}
	}
	if m.latency {
		slots := make([]uint64, latencySlots)
		for i := range slots {
			slots[i] = m.verify[i].Load()
		}
		snap.Histograms[MetricVerifyLatency] = slots
	}
	return snap
}

func latencySlot(d time.Duration) int {
	for i, bound := range LatencyBuckets {
		if d <= bound {
			return i
		}
	}
	return len(LatencyBuckets)
}
