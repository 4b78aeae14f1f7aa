// internal/utils/metrics_test.go
package utils

import (
	"sync"
	"testing"
)

func TestCounterOperations(t *testing.T) {
	m := GetMetricsCollector()

	m.IncrementCounter("test_counter_ops")
	m.AddCounter("test_counter_ops", 4)

	if got := m.GetCounterValue("test_counter_ops"); got != 5 {
		t.Errorf("计数器应为5，实际 %d", got)
	}
	if got := m.GetCounterValue("test_counter_never_set"); got != 0 {
		t.Errorf("未设置的计数器应为0，实际 %d", got)
	}
}

func TestGaugeOperations(t *testing.T) {
	m := GetMetricsCollector()

	m.SetGauge("test_gauge_ops", 10)
	m.IncGauge("test_gauge_ops")
	m.DecGauge("test_gauge_ops")
	m.DecGauge("test_gauge_ops")

	if got := m.GetGauge("test_gauge_ops"); got != 9 {
		t.Errorf("仪表值应为9，实际 %d", got)
	}
}

func TestHistogramTracksMinMax(t *testing.T) {
	m := GetMetricsCollector()

	m.RecordHistogram("test_histogram_latency", 30)
	m.RecordHistogram("test_histogram_latency", 10)
	m.RecordHistogram("test_histogram_latency", 50)

	metrics := m.GetMetrics()
	histograms, ok := metrics["histograms"].(map[string]map[string]int64)
	if !ok {
		t.Fatal("直方图快照类型不符")
	}

	h, exists := histograms["test_histogram_latency"]
	if !exists {
		t.Fatal("直方图未出现在快照中")
	}
	if h["count"] != 3 {
		t.Errorf("count 应为3，实际 %d", h["count"])
	}
	if h["sum"] != 90 {
		t.Errorf("sum 应为90，实际 %d", h["sum"])
	}
	if h["min"] != 10 {
		t.Errorf("min 应为10，实际 %d", h["min"])
	}
	if h["max"] != 50 {
		t.Errorf("max 应为50，实际 %d", h["max"])
	}
}

func TestGetMetricsSnapshot(t *testing.T) {
	m := GetMetricsCollector()
	m.IncrementCounter("test_snapshot_counter")

	metrics := m.GetMetrics()
	counters, ok := metrics["counters"].(map[string]int64)
	if !ok {
		t.Fatal("计数器快照类型不符")
	}
	if counters["test_snapshot_counter"] < 1 {
		t.Errorf("快照应包含计数值，实际 %d", counters["test_snapshot_counter"])
	}
}

func TestConcurrentCounterIncrements(t *testing.T) {
	m := GetMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("test_concurrent_counter")
		}()
	}
	wg.Wait()

	if got := m.GetCounterValue("test_concurrent_counter"); got != 100 {
		t.Errorf("并发递增后应为100，实际 %d", got)
	}
}
