package raft

import (
	"fmt"

	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
)

// AdminState is a point-in-time view of the store for admin and diagnostic APIs.
type AdminState struct {
	NodeID            string
	FirstIndex        uint64
	LastIndex         uint64
	LastTerm          uint64
	WatermarkIndex    uint64
	WatermarkTerm     uint64
	SnapshotIndex     uint64
	SnapshotTerm      uint64
	SnapshotSizeBytes int64
	HardState         consensus.HardState
	ConfState         consensus.ConfState
	BackendSizeBytes  int64
	SnapshotInFlight  bool
}

// AdminState returns a read-only view of the store.
func (s *Store) AdminState() (AdminState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := AdminState{NodeID: s.id}
	err := s.db.View(func(tx backend.Tx) error {
		first, last, wm, err := s.entries.bounds(tx)
		if err != nil {
			return err
		}
		out.FirstIndex, out.LastIndex = first, last
		out.WatermarkIndex, out.WatermarkTerm = wm.Index, wm.Term
		if out.LastTerm, err = s.termLocked(tx, last); err != nil {
			return err
		}
		if out.HardState, err = s.state.hardState(tx); err != nil {
			return err
		}
		if out.ConfState, err = s.state.confState(tx); err != nil {
			return err
		}
		snap, err := s.state.snapshot(tx)
		if err != nil {
			return err
		}
		out.SnapshotIndex = snap.Metadata.Index
		out.SnapshotTerm = snap.Metadata.Term
		out.SnapshotSizeBytes = int64(len(snap.Data))
		return nil
	})
	if err != nil {
		return AdminState{}, s.fail(opAdminState, fmt.Errorf("raftstore: admin state: %w", err))
	}
	if out.BackendSizeBytes, err = s.db.Size(); err != nil {
		return AdminState{}, s.fail(opAdminState, fmt.Errorf("raftstore: admin state: %w", err))
	}
	out.SnapshotInFlight = s.snapshotInFlight()
	return out, nil
}

// DumpEntries returns entries in [low, high) clamped to what is stored. Unlike
// Entries it never panics, which makes it safe to expose to operators. A
// maxSize of 0 means no limit.
func (s *Store) DumpEntries(low, high, maxSize uint64) ([]consensus.Entry, error) {
	if maxSize == 0 {
		maxSize = NoLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []consensus.Entry
	err := s.db.View(func(tx backend.Tx) error {
		first, last, _, err := s.entries.bounds(tx)
		if err != nil {
			return err
		}
		low = max(low, first)
		high = min(high, last+1)
		out, err = s.entries.slice(tx, low, high, maxSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("raftstore: dump entries: %w", err)
	}
	return LimitSize(out, maxSize), nil
}
