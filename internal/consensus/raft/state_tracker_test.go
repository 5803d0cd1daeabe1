package raft

import (
	"errors"
	"reflect"
	"testing"

	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
)

func TestStateTracker_ZeroValuesWhenUnset(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 0, func(t *testing.T, db backend.DB) {
		var st stateTracker
		view(t, db, func(tx backend.Tx) error {
			hs, err := st.hardState(tx)
			if err != nil || !hs.IsEmpty() {
				t.Fatalf("expected empty hard state, got %+v (err=%v)", hs, err)
			}
			cs, err := st.confState(tx)
			if err != nil || !cs.IsEmpty() {
				t.Fatalf("expected empty conf state, got %+v (err=%v)", cs, err)
			}
			snap, err := st.snapshot(tx)
			if err != nil || !snap.IsEmpty() {
				t.Fatalf("expected empty snapshot, got %+v (err=%v)", snap, err)
			}
			return nil
		})
	})
}

func TestStateTracker_PersistsState(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 0, func(t *testing.T, db backend.DB) {
		var st stateTracker
		hs := consensus.HardState{Term: 3, Vote: 2, Commit: 9}
		cs := consensus.ConfState{Voters: []uint64{1, 2, 3}, Learners: []uint64{4}}
		snap := consensus.Snapshot{
			Metadata: consensus.SnapshotMetadata{Index: 9, Term: 3, ConfState: cs},
			Data:     []byte("state"),
		}

		err := update(t, db, func(tx backend.Tx) error {
			if err := st.setHardState(tx, hs); err != nil {
				return err
			}
			if err := st.setConfState(tx, cs); err != nil {
				return err
			}
			return st.setSnapshot(tx, snap)
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		view(t, db, func(tx backend.Tx) error {
			gotHS, err := st.hardState(tx)
			if err != nil {
				t.Fatalf("hardState() error = %v", err)
			}
			if gotHS != hs {
				t.Fatalf("expected %+v, got %+v", hs, gotHS)
			}
			gotCS, err := st.confState(tx)
			if err != nil {
				t.Fatalf("confState() error = %v", err)
			}
			if !reflect.DeepEqual(gotCS, cs) {
				t.Fatalf("expected %+v, got %+v", cs, gotCS)
			}
			gotSnap, err := st.snapshot(tx)
			if err != nil {
				t.Fatalf("snapshot() error = %v", err)
			}
			if !reflect.DeepEqual(gotSnap, snap) {
				t.Fatalf("expected %+v, got %+v", snap, gotSnap)
			}
			return nil
		})
	})
}

func TestStateTracker_WatermarkOnlyMovesForward(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 0, func(t *testing.T, db backend.DB) {
		var st stateTracker
		err := update(t, db, func(tx backend.Tx) error {
			return st.setWatermark(tx, consensus.SnapshotMetadata{Index: 5, Term: 2})
		})
		if err != nil {
			t.Fatalf("setWatermark() error = %v", err)
		}

		err = update(t, db, func(tx backend.Tx) error {
			return st.setWatermark(tx, consensus.SnapshotMetadata{Index: 4, Term: 2})
		})
		if !errors.Is(err, errWatermarkRegression) {
			t.Fatalf("expected errWatermarkRegression, got %v", err)
		}

		view(t, db, func(tx backend.Tx) error {
			wm, err := st.watermark(tx)
			if err != nil {
				t.Fatalf("watermark() error = %v", err)
			}
			if wm.Index != 5 || wm.Term != 2 {
				t.Fatalf("expected (5, 2), got (%d, %d)", wm.Index, wm.Term)
			}
			return nil
		})
	})
}

func TestStateTracker_ObserveAppendRaisesTerm(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 0, func(t *testing.T, db backend.DB) {
		var st stateTracker
		err := update(t, db, func(tx backend.Tx) error {
			if err := st.setHardState(tx, consensus.HardState{Term: 2, Vote: 1, Commit: 4}); err != nil {
				return err
			}
			if err := st.observeAppend(tx, ents(5, 6, 1)); err != nil {
				return err
			}
			hs, err := st.hardState(tx)
			if err != nil {
				return err
			}
			if hs.Term != 2 {
				t.Fatalf("older entries must not lower term, got %d", hs.Term)
			}
			return st.observeAppend(tx, ents(7, 7, 4))
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		view(t, db, func(tx backend.Tx) error {
			hs, err := st.hardState(tx)
			if err != nil {
				t.Fatalf("hardState() error = %v", err)
			}
			want := consensus.HardState{Term: 4, Vote: 1, Commit: 4}
			if hs != want {
				t.Fatalf("expected %+v, got %+v", want, hs)
			}
			return nil
		})
	})
}

func TestStateTracker_UndecodableRecordIsCorruption(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 0, func(t *testing.T, db backend.DB) {
		var st stateTracker
		err := update(t, db, func(tx backend.Tx) error {
			return tx.Bucket(metaBucket).Put(hardStateKey, []byte("{not json"))
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		view(t, db, func(tx backend.Tx) error {
			if _, err := st.hardState(tx); !errors.Is(err, consensus.ErrCorruption) {
				t.Fatalf("expected ErrCorruption, got %v", err)
			}
			return nil
		})
	})
}
