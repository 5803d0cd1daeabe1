// Package raft implements durable log storage for a Raft node.
//
// Store keeps log entries, HardState, ConfState and snapshots in a single
// transactional key-value backend and serves them through the
// consensus.Storage interface that a Raft driver polls. Every call runs in its
// own transaction, so a crash never leaves a half-applied batch.
//
// Reads return typed errors (consensus.ErrCompacted, consensus.ErrUnavailable)
// the driver is expected to handle. Requests no correct driver can make, such
// as appending past the end of the log or reading beyond it, are logged and
// then panic.
package raft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
)

var _ consensus.Storage = (*Store)(nil)

// Store is the persistent log storage of one Raft node. It is safe for
// concurrent use: reads share a lock, writes are exclusive.
type Store struct {
	mu sync.RWMutex

	id      string
	db      backend.DB
	entries entryStore
	state   stateTracker

	logger  Logger
	tracer  oteltrace.Tracer
	metrics Metrics

	// SnapshotSource, when set, lets Snapshot build a fresh snapshot in the
	// background when the stored one is too old. Set it before first use.
	SnapshotSource SnapshotSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	snapMu       sync.Mutex
	snapInFlight bool
	closed       bool
}

// New creates a Store on top of db. The backend must already contain the
// buckets returned by Buckets. A nil tracer or metrics sink disables that
// concern; logger is required.
func New(id string, db backend.DB, logger Logger, tracer oteltrace.Tracer, metrics Metrics) (*Store, error) {
	if db == nil {
		return nil, ErrNilBackend
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("raftstore")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	err := db.View(func(tx backend.Tx) error {
		for _, name := range Buckets() {
			if _, err := backend.MustBucket(tx, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("raftstore: open: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		id:      id,
		db:      db,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.refreshGauges()
	return s, nil
}

// InitialState returns the persisted HardState and ConfState.
func (s *Store) InitialState() (consensus.HardState, consensus.ConfState, error) {
	defer s.observe(opInitialState, time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		hs consensus.HardState
		cs consensus.ConfState
	)
	err := s.db.View(func(tx backend.Tx) error {
		var err error
		if hs, err = s.state.hardState(tx); err != nil {
			return err
		}
		cs, err = s.state.confState(tx)
		return err
	})
	if err != nil {
		return hs, cs, s.fail(opInitialState, fmt.Errorf("raftstore: initial state: %w", err))
	}
	return hs, cs, nil
}

// Entries returns the entries in [low, high), trimmed to maxSize bytes. At
// least one entry is returned when low < high.
func (s *Store) Entries(low, high, maxSize uint64) ([]consensus.Entry, error) {
	defer s.observe(opEntries, time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []consensus.Entry
	err := s.db.View(func(tx backend.Tx) error {
		first, last, _, err := s.entries.bounds(tx)
		if err != nil {
			return err
		}
		if low < first {
			return fmt.Errorf("%w: first index %d", consensus.ErrCompacted, first)
		}
		if low > high || high > last+1 {
			return fmt.Errorf("%w: [%d, %d), log is [%d, %d]", errOutOfBound, low, high, first, last)
		}
		out, err = s.entries.slice(tx, low, high, maxSize)
		return err
	})
	if err != nil {
		if errors.Is(err, errOutOfBound) {
			s.fatal(opEntries, err)
		}
		return nil, s.fail(opEntries, fmt.Errorf("raftstore: entries [%d, %d): %w", low, high, err))
	}
	return LimitSize(out, maxSize), nil
}

// Term returns the term of the entry at index. The snapshot boundary answers
// even though its entry is no longer stored.
func (s *Store) Term(index uint64) (uint64, error) {
	defer s.observe(opTerm, time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	var term uint64
	err := s.db.View(func(tx backend.Tx) error {
		var err error
		term, err = s.termLocked(tx, index)
		return err
	})
	if err != nil {
		return 0, s.fail(opTerm, fmt.Errorf("raftstore: term %d: %w", index, err))
	}
	return term, nil
}

func (s *Store) termLocked(tx backend.Tx, index uint64) (uint64, error) {
	first, last, wm, err := s.entries.bounds(tx)
	if err != nil {
		return 0, err
	}
	if index < first || index > last {
		switch {
		case index == wm.Index:
			return wm.Term, nil
		case index < first:
			return 0, fmt.Errorf("%w: first index %d", consensus.ErrCompacted, first)
		default:
			return 0, fmt.Errorf("%w: last index %d", consensus.ErrUnavailable, last)
		}
	}
	// A stored entry wins over the boundary: it may have been rewritten
	// after a partial compaction.
	e, err := s.entries.get(tx, index)
	if errors.Is(err, consensus.ErrNotFound) {
		return 0, fmt.Errorf("%w: hole at %d", consensus.ErrCorruption, index)
	}
	if err != nil {
		return 0, err
	}
	return e.Term, nil
}

// FirstIndex returns the index of the first entry that can be read.
func (s *Store) FirstIndex() (uint64, error) {
	defer s.observe(opFirstIndex, time.Now())
	first, _, err := s.bounds()
	if err != nil {
		return 0, s.fail(opFirstIndex, fmt.Errorf("raftstore: first index: %w", err))
	}
	return first, nil
}

// LastIndex returns the index of the last entry, or the snapshot boundary when
// no entries are stored.
func (s *Store) LastIndex() (uint64, error) {
	defer s.observe(opLastIndex, time.Now())
	_, last, err := s.bounds()
	if err != nil {
		return 0, s.fail(opLastIndex, fmt.Errorf("raftstore: last index: %w", err))
	}
	return last, nil
}

func (s *Store) bounds() (first, last uint64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	err = s.db.View(func(tx backend.Tx) error {
		var err error
		first, last, _, err = s.entries.bounds(tx)
		return err
	})
	return first, last, err
}

// Append persists entries as one atomic batch. Stored entries at or after the
// first new index are replaced. Appending after a gap or over compacted
// entries panics.
func (s *Store) Append(entries []consensus.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	defer s.observe(opAppend, time.Now())
	from, to := entries[0].Index, entries[len(entries)-1].Index
	_, span := s.startSpan(
		context.Background(),
		"raftstore.Append",
		attribute.Int("raft.entries_count", len(entries)),
		indexAttr("raft.first_index", from),
		indexAttr("raft.last_index", to),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var first, last uint64
	err := s.db.Update(func(tx backend.Tx) error {
		if err := s.entries.append(tx, entries); err != nil {
			return err
		}
		if err := s.state.observeAppend(tx, entries); err != nil {
			return err
		}
		var err error
		first, last, _, err = s.entries.bounds(tx)
		return err
	})
	if err != nil {
		if errors.Is(err, consensus.ErrGapInLog) || errors.Is(err, consensus.ErrOverwriteCompacted) {
			s.fatal(opAppend, err)
		}
		err = fmt.Errorf("raftstore: append [%d, %d]: %w", from, to, err)
		spanRecordError(span, err)
		return s.fail(opAppend, err)
	}

	s.metrics.AddEntriesAppended(s.id, len(entries))
	s.metrics.SetLogIndexes(s.id, first, last)
	s.refreshSizeGauge()
	s.logger.Debug("entries appended", "node_id", s.id, "first_index", from, "last_index", to, "count", len(entries))
	return nil
}

// Compact discards every entry below upTo. The entry at upTo stays readable
// and becomes the new first index. When upTo is one past the last index the
// whole log goes and the last entry becomes the snapshot boundary. Calls with
// upTo <= FirstIndex are no-ops; upTo > LastIndex+1 panics.
func (s *Store) Compact(upTo uint64) error {
	defer s.observe(opCompact, time.Now())
	_, span := s.startSpan(context.Background(), "raftstore.Compact", indexAttr("raft.compact_index", upTo))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		wm          consensus.SnapshotMetadata
		removed     int
		first, last uint64
	)
	err := s.db.Update(func(tx backend.Tx) error {
		var err error
		wm, removed, err = s.entries.compact(tx, upTo)
		if err != nil || removed == 0 {
			return err
		}
		if err := s.state.setWatermark(tx, wm); err != nil {
			return err
		}
		first, last, _, err = s.entries.bounds(tx)
		return err
	})
	if err != nil {
		if errors.Is(err, errCompactBeyondLog) || errors.Is(err, errWatermarkRegression) {
			s.fatal(opCompact, err)
		}
		err = fmt.Errorf("raftstore: compact %d: %w", upTo, err)
		spanRecordError(span, err)
		return s.fail(opCompact, err)
	}
	if removed == 0 {
		return nil
	}

	s.metrics.AddEntriesCompacted(s.id, removed)
	s.metrics.SetLogIndexes(s.id, first, last)
	s.refreshSizeGauge()
	s.logger.Info("log compacted",
		"node_id", s.id,
		"compact_index", upTo,
		"removed", removed,
		"watermark_index", wm.Index,
		"watermark_term", wm.Term,
	)
	return nil
}

// SetHardState persists hs.
func (s *Store) SetHardState(hs consensus.HardState) error {
	defer s.observe(opSetHardState, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx backend.Tx) error {
		return s.state.setHardState(tx, hs)
	})
	if err != nil {
		return s.fail(opSetHardState, fmt.Errorf("raftstore: set hard state: %w", err))
	}
	return nil
}

// SetConfState persists cs.
func (s *Store) SetConfState(cs consensus.ConfState) error {
	defer s.observe(opSetConfState, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx backend.Tx) error {
		return s.state.setConfState(tx, cs.Clone())
	})
	if err != nil {
		return s.fail(opSetConfState, fmt.Errorf("raftstore: set conf state: %w", err))
	}
	s.logger.Info("conf state updated", "node_id", s.id, "voters", cs.Voters, "learners", cs.Learners)
	return nil
}

// Initialized reports whether the store holds any state at all.
func (s *Store) Initialized() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ok bool
	err := s.db.View(func(tx backend.Tx) error {
		var err error
		ok, err = s.initializedLocked(tx)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("raftstore: initialized: %w", err)
	}
	return ok, nil
}

func (s *Store) initializedLocked(tx backend.Tx) (bool, error) {
	_, last, wm, err := s.entries.bounds(tx)
	if err != nil {
		return false, err
	}
	if last != 0 || wm.Index != 0 {
		return true, nil
	}
	hs, err := s.state.hardState(tx)
	if err != nil {
		return false, err
	}
	cs, err := s.state.confState(tx)
	if err != nil {
		return false, err
	}
	return !hs.IsEmpty() || !cs.IsEmpty(), nil
}

// InitializeWithConfState bootstraps a brand-new store with its initial
// membership. Calling it on a store that already holds state panics.
func (s *Store) InitializeWithConfState(cs consensus.ConfState) error {
	defer s.observe(opInitialize, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx backend.Tx) error {
		ok, err := s.initializedLocked(tx)
		if err != nil {
			return err
		}
		if ok {
			return errAlreadyInitialized
		}
		return s.state.setConfState(tx, cs.Clone())
	})
	if err != nil {
		if errors.Is(err, errAlreadyInitialized) {
			s.fatal(opInitialize, err)
		}
		return s.fail(opInitialize, fmt.Errorf("raftstore: initialize: %w", err))
	}
	s.logger.Info("storage initialized", "node_id", s.id, "voters", cs.Voters, "learners", cs.Learners)
	return nil
}

// Clear deletes every stored entry. HardState, ConfState, the snapshot and the
// snapshot boundary are kept.
func (s *Store) Clear() error {
	defer s.observe(opClear, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	err := s.db.Update(func(tx backend.Tx) error {
		var err error
		removed, err = s.entries.clear(tx)
		return err
	})
	if err != nil {
		return s.fail(opClear, fmt.Errorf("raftstore: clear: %w", err))
	}
	s.refreshGaugesLocked()
	s.logger.Warn("log cleared", "node_id", s.id, "removed", removed)
	return nil
}

// Close stops background snapshot generation and closes the backend.
func (s *Store) Close() error {
	s.snapMu.Lock()
	if s.closed {
		s.snapMu.Unlock()
		return nil
	}
	s.closed = true
	s.snapMu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("raftstore: close: %w", err)
	}
	return nil
}

// fatal logs a contract violation and panics. The driver called the store in a
// way that can only come from a bug, and continuing would corrupt the log.
func (s *Store) fatal(op string, err error) {
	s.metrics.IncStorageError(s.id, op, errorKindContract)
	s.logger.Error("storage contract violation", "node_id", s.id, "op", op, "error", err)
	panic(fmt.Sprintf("raftstore: %s: %v", op, err))
}

func (s *Store) refreshGauges() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.refreshGaugesLocked()
}

func (s *Store) refreshGaugesLocked() {
	err := s.db.View(func(tx backend.Tx) error {
		first, last, _, err := s.entries.bounds(tx)
		if err != nil {
			return err
		}
		s.metrics.SetLogIndexes(s.id, first, last)
		return nil
	})
	if err != nil {
		s.logger.Warn("read log bounds failed", "node_id", s.id, "error", err)
	}
	s.refreshSizeGauge()
}

func (s *Store) refreshSizeGauge() {
	n, err := s.db.Size()
	if err != nil {
		s.logger.Warn("read backend size failed", "node_id", s.id, "error", err)
		return
	}
	s.metrics.SetBackendSizeBytes(s.id, n)
}
