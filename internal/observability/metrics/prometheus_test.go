package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPrometheus_ReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := NewPrometheus(reg)
	if err != nil {
		t.Fatalf("NewPrometheus() error = %v", err)
	}
	second, err := NewPrometheus(reg)
	if err != nil {
		t.Fatalf("second NewPrometheus() error = %v", err)
	}

	first.AddEntriesAppended("n1", 3)
	second.AddEntriesAppended("n1", 2)

	if got := testutil.ToFloat64(first.storageEntriesAppended.WithLabelValues("n1")); got != 5 {
		t.Fatalf("expected shared counter 5, got %v", got)
	}
}

func TestPrometheus_StorageMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewPrometheus(reg)
	if err != nil {
		t.Fatalf("NewPrometheus() error = %v", err)
	}

	m.SetLogIndexes("n1", 4, 9)
	m.SetBackendSizeBytes("n1", 1<<20)
	m.IncStorageError("n1", "entries", "compacted")
	m.IncStorageError("n1", "entries", "compacted")
	m.AddEntriesCompacted("n1", 3)
	m.IncSnapshotGeneration("n1", "ok")
	m.ObserveStorageOpDuration("n1", "append", 2*time.Millisecond)
	m.ObserveAdminRequest("n1", "GetLogState", "OK", time.Millisecond)

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{name: "first index", c: m.storageFirstIndex.WithLabelValues("n1"), want: 4},
		{name: "last index", c: m.storageLastIndex.WithLabelValues("n1"), want: 9},
		{name: "backend size", c: m.storageBackendSizeBytes.WithLabelValues("n1"), want: 1 << 20},
		{name: "errors", c: m.storageErrorTotal.WithLabelValues("n1", "entries", "compacted"), want: 2},
		{name: "compacted", c: m.storageEntriesCompacted.WithLabelValues("n1"), want: 3},
		{name: "snapshots", c: m.storageSnapshotGenerated.WithLabelValues("n1", "ok"), want: 1},
		{name: "admin requests", c: m.adminRequestTotal.WithLabelValues("n1", "GetLogState", "OK"), want: 1},
	}
	for _, tt := range checks {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}

	if n := testutil.CollectAndCount(m.storageOpDuration, "raftstore_storage_op_duration_seconds"); n != 1 {
		t.Fatalf("expected 1 op duration series, got %d", n)
	}
}
