package raft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

// SnapshotSource produces the application state a snapshot captures.
type SnapshotSource interface {
	// SnapshotData returns the serialized state machine and the index of the
	// last entry applied to it.
	SnapshotData(ctx context.Context) (index uint64, data []byte, err error)
}

const (
	snapshotResultOK    = "ok"
	snapshotResultStale = "stale"
	snapshotResultError = "error"
)

// Snapshot returns the stored snapshot when it covers requestIndex. Otherwise,
// if a SnapshotSource is configured, a new snapshot is built in the background
// and consensus.ErrSnapshotTemporarilyUnavailable is returned; the caller
// retries later. to names the peer the snapshot is meant for.
func (s *Store) Snapshot(requestIndex, to uint64) (consensus.Snapshot, error) {
	defer s.observe(opSnapshot, time.Now())

	s.mu.RLock()
	var snap consensus.Snapshot
	err := s.db.View(func(tx backend.Tx) error {
		var err error
		snap, err = s.state.snapshot(tx)
		return err
	})
	s.mu.RUnlock()
	if err != nil {
		return consensus.Snapshot{}, s.fail(opSnapshot, fmt.Errorf("raftstore: snapshot: %w", err))
	}

	if !snap.IsEmpty() && snap.Metadata.Index >= requestIndex {
		return snap, nil
	}
	if s.SnapshotSource == nil {
		if !snap.IsEmpty() {
			return snap, nil
		}
		return consensus.Snapshot{}, consensus.ErrSnapshotTemporarilyUnavailable
	}

	s.requestSnapshot(requestIndex, to)
	return consensus.Snapshot{}, consensus.ErrSnapshotTemporarilyUnavailable
}

// requestSnapshot starts a generation unless one is already running.
func (s *Store) requestSnapshot(requestIndex, to uint64) {
	s.snapMu.Lock()
	if s.snapInFlight || s.closed {
		s.snapMu.Unlock()
		return
	}
	s.snapInFlight = true
	s.wg.Add(1)
	s.snapMu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.snapMu.Lock()
			s.snapInFlight = false
			s.snapMu.Unlock()
		}()
		s.generateSnapshot(s.ctx, requestIndex, to)
	}()
}

func (s *Store) snapshotInFlight() bool {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snapInFlight
}

func (s *Store) generateSnapshot(ctx context.Context, requestIndex, to uint64) {
	ctx, span := s.startSpan(
		ctx,
		"raftstore.GenerateSnapshot",
		indexAttr("raft.snapshot.request_index", requestIndex),
		indexAttr("raft.snapshot.to", to),
	)
	defer span.End()

	index, data, err := s.SnapshotSource.SnapshotData(ctx)
	if err != nil {
		spanRecordError(span, err)
		s.metrics.IncSnapshotGeneration(s.id, snapshotResultError)
		s.logger.Warn("snapshot source failed", "node_id", s.id, "request_index", requestIndex, "error", err)
		return
	}
	span.SetAttributes(indexAttr("raft.snapshot.index", index), attribute.Int("raft.snapshot.bytes", len(data)))

	snap, err := s.CreateSnapshot(index, nil, data)
	switch {
	case errors.Is(err, consensus.ErrSnapOutOfDate):
		s.metrics.IncSnapshotGeneration(s.id, snapshotResultStale)
		s.logger.Debug("generated snapshot already covered", "node_id", s.id, "index", index)
		return
	case err != nil:
		spanRecordError(span, err)
		s.metrics.IncSnapshotGeneration(s.id, snapshotResultError)
		s.logger.Warn("store generated snapshot failed", "node_id", s.id, "index", index, "error", err)
		return
	}
	if index < requestIndex {
		s.logger.Warn("generated snapshot behind request",
			"node_id", s.id,
			"index", index,
			"request_index", requestIndex,
		)
	}
	s.metrics.IncSnapshotGeneration(s.id, snapshotResultOK)
	s.logger.Info("snapshot generated",
		"node_id", s.id,
		"index", snap.Metadata.Index,
		"term", snap.Metadata.Term,
		"bytes", len(snap.Data),
		"to", to,
	)
}

// CreateSnapshot records a snapshot of the state machine at index. The log is
// left untouched; call Compact to release entries the snapshot covers. A nil
// cs records the current ConfState.
func (s *Store) CreateSnapshot(index uint64, cs *consensus.ConfState, data []byte) (consensus.Snapshot, error) {
	defer s.observe(opCreateSnapshot, time.Now())
	_, span := s.startSpan(
		context.Background(),
		"raftstore.CreateSnapshot",
		indexAttr("raft.snapshot.index", index),
		attribute.Int("raft.snapshot.bytes", len(data)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var snap consensus.Snapshot
	err := s.db.Update(func(tx backend.Tx) error {
		cur, err := s.state.snapshot(tx)
		if err != nil {
			return err
		}
		if index <= cur.Metadata.Index {
			return fmt.Errorf("%w: stored snapshot at %d", consensus.ErrSnapOutOfDate, cur.Metadata.Index)
		}
		term, err := s.termLocked(tx, index)
		if err != nil {
			return err
		}

		var conf consensus.ConfState
		if cs != nil {
			conf = cs.Clone()
		} else if conf, err = s.state.confState(tx); err != nil {
			return err
		}

		snap = consensus.Snapshot{
			Metadata: consensus.SnapshotMetadata{Index: index, Term: term, ConfState: conf},
			Data:     append([]byte(nil), data...),
		}
		return s.state.setSnapshot(tx, snap)
	})
	if err != nil {
		err = fmt.Errorf("raftstore: create snapshot %d: %w", index, err)
		spanRecordError(span, err)
		return consensus.Snapshot{}, s.fail(opCreateSnapshot, err)
	}
	s.refreshSizeGauge()
	return snap, nil
}

// ApplySnapshot installs a snapshot received from the leader. The whole log is
// discarded, the snapshot becomes the new boundary, and its ConfState replaces
// the stored one.
func (s *Store) ApplySnapshot(snap consensus.Snapshot) error {
	defer s.observe(opApplySnapshot, time.Now())
	_, span := s.startSpan(
		context.Background(),
		"raftstore.ApplySnapshot",
		indexAttr("raft.snapshot.index", snap.Metadata.Index),
		indexAttr("raft.snapshot.term", snap.Metadata.Term),
		attribute.Int("raft.snapshot.bytes", len(snap.Data)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	err := s.db.Update(func(tx backend.Tx) error {
		wm, err := s.state.watermark(tx)
		if err != nil {
			return err
		}
		cur, err := s.state.snapshot(tx)
		if err != nil {
			return err
		}
		if snap.Metadata.Index <= wm.Index || snap.Metadata.Index <= cur.Metadata.Index {
			return fmt.Errorf("%w: boundary %d, stored snapshot %d", consensus.ErrSnapOutOfDate, wm.Index, cur.Metadata.Index)
		}

		if removed, err = s.entries.clear(tx); err != nil {
			return err
		}
		if err := s.state.setWatermark(tx, consensus.SnapshotMetadata{Index: snap.Metadata.Index, Term: snap.Metadata.Term}); err != nil {
			return err
		}
		if err := s.state.setConfState(tx, snap.Metadata.ConfState.Clone()); err != nil {
			return err
		}
		return s.state.setSnapshot(tx, snap)
	})
	if err != nil {
		err = fmt.Errorf("raftstore: apply snapshot %d: %w", snap.Metadata.Index, err)
		spanRecordError(span, err)
		return s.fail(opApplySnapshot, err)
	}

	s.refreshGaugesLocked()
	s.logger.Info("snapshot applied",
		"node_id", s.id,
		"index", snap.Metadata.Index,
		"term", snap.Metadata.Term,
		"removed", removed,
	)
	return nil
}
