package raft

import (
	"errors"
	"time"

	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
)

// Metrics captures storage-layer metric sinks used by Store.
type Metrics interface {
	ObserveStorageOpDuration(nodeID, op string, d time.Duration)
	IncStorageError(nodeID, op, kind string)
	AddEntriesAppended(nodeID string, n int)
	AddEntriesCompacted(nodeID string, n int)
	SetLogIndexes(nodeID string, first, last uint64)
	SetBackendSizeBytes(nodeID string, n int64)
	IncSnapshotGeneration(nodeID, result string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveStorageOpDuration(string, string, time.Duration) {}
func (noopMetrics) IncStorageError(string, string, string)                 {}
func (noopMetrics) AddEntriesAppended(string, int)                         {}
func (noopMetrics) AddEntriesCompacted(string, int)                        {}
func (noopMetrics) SetLogIndexes(string, uint64, uint64)                   {}
func (noopMetrics) SetBackendSizeBytes(string, int64)                      {}
func (noopMetrics) IncSnapshotGeneration(string, string)                   {}

const errorKindContract = "contract_violation"

// errorKind buckets an error into a low-cardinality label value.
func errorKind(err error) string {
	switch {
	case errors.Is(err, consensus.ErrCompacted):
		return "compacted"
	case errors.Is(err, consensus.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, consensus.ErrSnapOutOfDate):
		return "out_of_date"
	case errors.Is(err, backend.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, consensus.ErrCorruption):
		return "corruption"
	case errors.Is(err, backend.ErrClosed):
		return "closed"
	default:
		return "io"
	}
}

func (s *Store) observe(op string, start time.Time) {
	s.metrics.ObserveStorageOpDuration(s.id, op, time.Since(start))
}

// fail records err against op and returns it unchanged.
func (s *Store) fail(op string, err error) error {
	s.metrics.IncStorageError(s.id, op, errorKind(err))
	return err
}
