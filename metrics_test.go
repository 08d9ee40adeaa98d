package authgate

import (
	"sync"
	"testing"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := newMetrics()

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricReuseDetected)

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 2 {
		t.Fatalf("login-success = %d, want 2", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricReuseDetected] != 1 {
		t.Fatalf("reuse-detected = %d, want 1", snap.Counters[MetricReuseDetected])
	}
	if snap.Counters[MetricLogout] != 0 {
		t.Fatalf("logout = %d, want 0", snap.Counters[MetricLogout])
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := newMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricLoginFailure)
			}
		}()
	}
	wg.Wait()

	if got := m.Snapshot().Counters[MetricLoginFailure]; got != 8000 {
		t.Fatalf("login-failure = %d, want 8000", got)
	}
}

func TestMetricsNilAndOutOfRange(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)

	snap := m.Snapshot()
	if len(snap.Counters) != 0 {
		t.Fatalf("nil snapshot has %d counters", len(snap.Counters))
	}

	real := newMetrics()
	real.Inc(metricCount + 1)
	if got := real.Snapshot().Counters[MetricLoginSuccess]; got != 0 {
		t.Fatalf("out-of-range Inc touched a counter: %d", got)
	}
}
