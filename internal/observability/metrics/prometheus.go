//revive:disable:var-naming
//revive:disable:exported
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes storage and admin metrics. It implements
// internal/consensus/raft.Metrics and internal/transport/grpc/admin.Metrics
// through method set compatibility, without importing those packages.
type Prometheus struct {
	storageOpDuration        *prometheus.HistogramVec
	storageErrorTotal        *prometheus.CounterVec
	storageEntriesAppended   *prometheus.CounterVec
	storageEntriesCompacted  *prometheus.CounterVec
	storageFirstIndex        *prometheus.GaugeVec
	storageLastIndex         *prometheus.GaugeVec
	storageBackendSizeBytes  *prometheus.GaugeVec
	storageSnapshotGenerated *prometheus.CounterVec
	adminRequestDuration     *prometheus.HistogramVec
	adminRequestTotal        *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Prometheus{
		storageOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "raftstore",
				Subsystem: "storage",
				Name:      "op_duration_seconds",
				Help:      "Duration of storage operations, including lock wait and the backend transaction.",
				Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"node_id", "op"},
		),
		storageErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftstore",
				Subsystem: "storage",
				Name:      "error_total",
				Help:      "Storage errors by operation and kind (compacted, unavailable, capacity, corruption, io, contract_violation).",
			},
			[]string{"node_id", "op", "kind"},
		),
		storageEntriesAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftstore",
				Subsystem: "storage",
				Name:      "entries_appended_total",
				Help:      "Log entries durably appended.",
			},
			[]string{"node_id"},
		),
		storageEntriesCompacted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftstore",
				Subsystem: "storage",
				Name:      "entries_compacted_total",
				Help:      "Log entries removed by compaction.",
			},
			[]string{"node_id"},
		),
		storageFirstIndex: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "raftstore",
				Subsystem: "storage",
				Name:      "first_index",
				Help:      "Index of the first readable log entry.",
			},
			[]string{"node_id"},
		),
		storageLastIndex: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "raftstore",
				Subsystem: "storage",
				Name:      "last_index",
				Help:      "Index of the last log entry.",
			},
			[]string{"node_id"},
		),
		storageBackendSizeBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "raftstore",
				Subsystem: "storage",
				Name:      "backend_size_bytes",
				Help:      "Bytes in use by the storage backend.",
			},
			[]string{"node_id"},
		),
		storageSnapshotGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftstore",
				Subsystem: "storage",
				Name:      "snapshot_generation_total",
				Help:      "Background snapshot generations by result.",
			},
			[]string{"node_id", "result"},
		),
		adminRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "raftstore",
				Subsystem: "admin",
				Name:      "request_duration_seconds",
				Help:      "Duration of admin gRPC requests.",
				Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"node_id", "method"},
		),
		adminRequestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftstore",
				Subsystem: "admin",
				Name:      "request_total",
				Help:      "Admin gRPC requests by method and status code.",
			},
			[]string{"node_id", "method", "code"},
		),
	}

	if err := m.register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Prometheus) register(reg prometheus.Registerer) error {
	if err := registerOrReuseHistogramVec(reg, &m.storageOpDuration); err != nil {
		return fmt.Errorf("register storage op duration histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.storageErrorTotal); err != nil {
		return fmt.Errorf("register storage error counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.storageEntriesAppended); err != nil {
		return fmt.Errorf("register storage appended counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.storageEntriesCompacted); err != nil {
		return fmt.Errorf("register storage compacted counter: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.storageFirstIndex); err != nil {
		return fmt.Errorf("register storage first index gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.storageLastIndex); err != nil {
		return fmt.Errorf("register storage last index gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.storageBackendSizeBytes); err != nil {
		return fmt.Errorf("register storage backend size gauge: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.storageSnapshotGenerated); err != nil {
		return fmt.Errorf("register storage snapshot generation counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.adminRequestDuration); err != nil {
		return fmt.Errorf("register admin request duration histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.adminRequestTotal); err != nil {
		return fmt.Errorf("register admin request counter: %w", err)
	}
	return nil
}

func registerOrReuseHistogramVec(reg prometheus.Registerer, c **prometheus.HistogramVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseCounterVec(reg prometheus.Registerer, c **prometheus.CounterVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseGaugeVec(reg prometheus.Registerer, c **prometheus.GaugeVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func (m *Prometheus) ObserveStorageOpDuration(nodeID, op string, d time.Duration) {
	m.storageOpDuration.WithLabelValues(nodeID, op).Observe(d.Seconds())
}

func (m *Prometheus) IncStorageError(nodeID, op, kind string) {
	m.storageErrorTotal.WithLabelValues(nodeID, op, kind).Inc()
}

func (m *Prometheus) AddEntriesAppended(nodeID string, n int) {
	m.storageEntriesAppended.WithLabelValues(nodeID).Add(float64(n))
}

func (m *Prometheus) AddEntriesCompacted(nodeID string, n int) {
	m.storageEntriesCompacted.WithLabelValues(nodeID).Add(float64(n))
}

func (m *Prometheus) SetLogIndexes(nodeID string, first, last uint64) {
	m.storageFirstIndex.WithLabelValues(nodeID).Set(float64(first))
	m.storageLastIndex.WithLabelValues(nodeID).Set(float64(last))
}

func (m *Prometheus) SetBackendSizeBytes(nodeID string, n int64) {
	m.storageBackendSizeBytes.WithLabelValues(nodeID).Set(float64(n))
}

func (m *Prometheus) IncSnapshotGeneration(nodeID, result string) {
	m.storageSnapshotGenerated.WithLabelValues(nodeID, result).Inc()
}

func (m *Prometheus) ObserveAdminRequest(nodeID, method, code string, d time.Duration) {
	m.adminRequestDuration.WithLabelValues(nodeID, method).Observe(d.Seconds())
	m.adminRequestTotal.WithLabelValues(nodeID, method, code).Inc()
}
