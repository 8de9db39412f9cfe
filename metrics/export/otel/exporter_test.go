package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authcore.MetricsSnapshot
	dropped  uint64
	cached   int
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authcore.MetricsSnapshot{
		Counters:   make(map[authcore.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authcore.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) UserCacheLen() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cached
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = data.DataPoints[0].Value
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = data.DataPoints[0].Value
				}
			}
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authcore-test")

	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 3,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
		cached:  4,
	}

	exp, err := New(meter, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)
	if got["authcore_login_success_total"] != 3 {
		t.Fatalf("expected login success 3, got %d", got["authcore_login_success_total"])
	}
	if got["authcore_verify_latency_seconds_count"] != 8 {
		t.Fatalf("expected histogram count 8, got %d", got["authcore_verify_latency_seconds_count"])
	}
	if got["authcore_audit_dropped_total"] != 1 {
		t.Fatalf("expected audit dropped 1, got %d", got["authcore_audit_dropped_total"])
	}
	if got["authcore_user_cache_entries"] != 4 {
		t.Fatalf("expected cache entries 4, got %d", got["authcore_user_cache_entries"])
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authcore-test")

	if _, err := New(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := New(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authcore-test")

	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	}

	exp, err := New(meter, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authcore.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
