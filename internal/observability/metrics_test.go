package observability

import (
	"testing"
	"time"
)

func TestRecordAccumulatesCountAndErrors(t *testing.T) {
	m := NewMetrics()
	m.Record("bridge", 10*time.Millisecond, false)
	m.Record("bridge", 20*time.Millisecond, true)

	snap := m.Snapshot()
	categories := snap["categories"].(map[string]CategorySnapshot)
	bridge := categories["bridge"]
	if bridge.Count != 2 {
		t.Fatalf("expected count 2, got %d", bridge.Count)
	}
	if bridge.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", bridge.Errors)
	}
	if bridge.AvgLatencyMs != 15 {
		t.Fatalf("expected avg 15ms, got %v", bridge.AvgLatencyMs)
	}
	if bridge.MaxLatencyMs != 20 {
		t.Fatalf("expected max 20ms, got %d", bridge.MaxLatencyMs)
	}
}

func TestGaugesAreOverwrittenNotAccumulated(t *testing.T) {
	m := NewMetrics()
	m.SetGauge("queue_depth", 3)
	m.SetGauge("queue_depth", 7)

	snap := m.Snapshot()
	gauges := snap["gauges"].(map[string]float64)
	if gauges["queue_depth"] != 7 {
		t.Fatalf("expected latest gauge value 7, got %v", gauges["queue_depth"])
	}
}

func TestSnapshotIsolatesInternalState(t *testing.T) {
	m := NewMetrics()
	m.Record("auth", 5*time.Millisecond, false)
	snap := m.Snapshot()
	categories := snap["categories"].(map[string]CategorySnapshot)
	categories["auth"] = CategorySnapshot{Count: 999}

	snap2 := m.Snapshot()
	if snap2["categories"].(map[string]CategorySnapshot)["auth"].Count == 999 {
		t.Fatal("mutating a snapshot should not affect internal state")
	}
}
