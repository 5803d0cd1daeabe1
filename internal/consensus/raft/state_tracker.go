package raft

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
)

var (
	hardStateKey    = []byte("hard_state")
	confStateKey    = []byte("conf_state")
	watermarkKey    = []byte("watermark")
	snapshotMetaKey = []byte("metadata")
	snapshotDataKey = []byte("data")
)

var errWatermarkRegression = errors.New("raftstore: snapshot watermark moved backwards")

// watermark is the persisted shape of the snapshot boundary. Membership is kept
// under its own key so it can change without touching the boundary.
type watermark struct {
	Index uint64 `json:"index"`
	Term  uint64 `json:"term"`
}

// stateTracker reads and writes the durable node state that lives next to the
// log: HardState, ConfState, the compaction watermark and the last snapshot.
// Every method works inside the caller's transaction.
type stateTracker struct{}

func (stateTracker) hardState(tx backend.Tx) (consensus.HardState, error) {
	var hs consensus.HardState
	err := getJSON(tx, metaBucket, hardStateKey, &hs)
	return hs, err
}

func (stateTracker) setHardState(tx backend.Tx, hs consensus.HardState) error {
	return putJSON(tx, metaBucket, hardStateKey, hs)
}

func (stateTracker) confState(tx backend.Tx) (consensus.ConfState, error) {
	var cs consensus.ConfState
	err := getJSON(tx, metaBucket, confStateKey, &cs)
	return cs, err
}

func (stateTracker) setConfState(tx backend.Tx, cs consensus.ConfState) error {
	return putJSON(tx, metaBucket, confStateKey, cs)
}

func (stateTracker) watermark(tx backend.Tx) (consensus.SnapshotMetadata, error) {
	var wm watermark
	if err := getJSON(tx, metaBucket, watermarkKey, &wm); err != nil {
		return consensus.SnapshotMetadata{}, err
	}
	return consensus.SnapshotMetadata{Index: wm.Index, Term: wm.Term}, nil
}

// setWatermark persists a new snapshot boundary. The boundary only moves forward.
func (st stateTracker) setWatermark(tx backend.Tx, m consensus.SnapshotMetadata) error {
	cur, err := st.watermark(tx)
	if err != nil {
		return err
	}
	if m.Index < cur.Index {
		return fmt.Errorf("%w: %d -> %d", errWatermarkRegression, cur.Index, m.Index)
	}
	return putJSON(tx, metaBucket, watermarkKey, watermark{Index: m.Index, Term: m.Term})
}

// snapshot returns the last stored snapshot, or the zero snapshot.
func (stateTracker) snapshot(tx backend.Tx) (consensus.Snapshot, error) {
	var snap consensus.Snapshot
	if err := getJSON(tx, snapshotBucket, snapshotMetaKey, &snap.Metadata); err != nil {
		return consensus.Snapshot{}, err
	}
	b, err := backend.MustBucket(tx, snapshotBucket)
	if err != nil {
		return consensus.Snapshot{}, err
	}
	if data := b.Get(snapshotDataKey); len(data) > 0 {
		snap.Data = append([]byte(nil), data...)
	}
	return snap, nil
}

func (stateTracker) setSnapshot(tx backend.Tx, snap consensus.Snapshot) error {
	if err := putJSON(tx, snapshotBucket, snapshotMetaKey, snap.Metadata); err != nil {
		return err
	}
	b, err := backend.MustBucket(tx, snapshotBucket)
	if err != nil {
		return err
	}
	if len(snap.Data) == 0 {
		return b.Delete(snapshotDataKey)
	}
	return b.Put(snapshotDataKey, snap.Data)
}

// observeAppend keeps HardState.Term at or above the term of the newest entry.
func (st stateTracker) observeAppend(tx backend.Tx, entries []consensus.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	hs, err := st.hardState(tx)
	if err != nil {
		return err
	}
	if last := entries[len(entries)-1].Term; last > hs.Term {
		hs.Term = last
		return st.setHardState(tx, hs)
	}
	return nil
}

func getJSON(tx backend.Tx, bucket, key []byte, v any) error {
	b, err := backend.MustBucket(tx, bucket)
	if err != nil {
		return err
	}
	data := b.Get(key)
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s/%s: %w", consensus.ErrCorruption, bucket, key, err)
	}
	return nil
}

func putJSON(tx backend.Tx, bucket, key []byte, v any) error {
	b, err := backend.MustBucket(tx, bucket)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, payload)
}
