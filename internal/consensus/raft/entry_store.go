package raft

import (
	"errors"
	"fmt"
	"math"

	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
)

var errCompactBeyondLog = errors.New("raftstore: compact index beyond last index")

// entryStore is the ordered map from log index to entry. Stored indices always
// form one contiguous range; when nothing is stored the range is derived from
// the watermark. Every method works inside the caller's transaction.
type entryStore struct {
	state stateTracker
}

// bounds returns first/last index and the current watermark.
// An empty store reports first = watermark+1, last = watermark.
func (s entryStore) bounds(tx backend.Tx) (first, last uint64, wm consensus.SnapshotMetadata, err error) {
	wm, err = s.state.watermark(tx)
	if err != nil {
		return 0, 0, wm, err
	}
	b, err := backend.MustBucket(tx, entriesBucket)
	if err != nil {
		return 0, 0, wm, err
	}

	c := b.Cursor()
	k, _ := c.First()
	if k == nil {
		return wm.Index + 1, wm.Index, wm, nil
	}
	if first, err = keyIndex(k); err != nil {
		return 0, 0, wm, err
	}
	k, _ = c.Last()
	if last, err = keyIndex(k); err != nil {
		return 0, 0, wm, err
	}
	return first, last, wm, nil
}

func (s entryStore) get(tx backend.Tx, index uint64) (consensus.Entry, error) {
	b, err := backend.MustBucket(tx, entriesBucket)
	if err != nil {
		return consensus.Entry{}, err
	}
	key := indexKey(index)
	v := b.Get(key)
	if v == nil {
		return consensus.Entry{}, fmt.Errorf("%w: index %d", consensus.ErrNotFound, index)
	}
	return decodeRecord(key, v)
}

// slice reads [low, high) in index order. The scan stops once the accumulated
// size exceeds maxSize; the entry that crossed the bound is included so that
// LimitSize has the final say.
func (s entryStore) slice(tx backend.Tx, low, high, maxSize uint64) ([]consensus.Entry, error) {
	if low >= high {
		return nil, nil
	}
	b, err := backend.MustBucket(tx, entriesBucket)
	if err != nil {
		return nil, err
	}

	out := make([]consensus.Entry, 0, min(high-low, 64))
	var (
		size    uint64
		bounded bool
	)
	next := low
	c := b.Cursor()
	for k, v := c.Seek(indexKey(low)); k != nil; k, v = c.Next() {
		index, err := keyIndex(k)
		if err != nil {
			return nil, err
		}
		if index >= high {
			break
		}
		if index != next {
			return nil, fmt.Errorf("%w: missing entry %d", consensus.ErrCorruption, next)
		}
		e, err := decodeRecord(k, v)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		next++

		size += EntrySize(e)
		if maxSize != NoLimit && size > maxSize {
			bounded = true
			break
		}
	}
	if !bounded && next != high {
		return nil, fmt.Errorf("%w: log ends at %d, wanted up to %d", consensus.ErrCorruption, next, high)
	}
	return out, nil
}

// append writes entries as one batch. Every stored entry at or after the first
// new index is discarded first, which repairs a conflicting suffix.
func (s entryStore) append(tx backend.Tx, entries []consensus.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Index != entries[0].Index+uint64(i) {
			return fmt.Errorf("%w: entry %d follows %d in batch", consensus.ErrGapInLog, entries[i].Index, entries[i-1].Index)
		}
	}

	first, last, _, err := s.bounds(tx)
	if err != nil {
		return err
	}
	start := entries[0].Index
	if start < first {
		return fmt.Errorf("%w: append at %d, first index %d", consensus.ErrOverwriteCompacted, start, first)
	}
	if start > last+1 {
		return fmt.Errorf("%w: append at %d, last index %d", consensus.ErrGapInLog, start, last)
	}

	b, err := backend.MustBucket(tx, entriesBucket)
	if err != nil {
		return err
	}
	if start <= last {
		if _, err := deleteRange(b, start, last+1); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := b.Put(indexKey(e.Index), encodeEntry(e)); err != nil {
			return fmt.Errorf("put index %d: %w", e.Index, err)
		}
	}
	return nil
}

// compact deletes [first, upTo) and returns the new watermark: the entry at
// min(upTo, last) together with its term. Nothing changes when upTo <= first.
func (s entryStore) compact(tx backend.Tx, upTo uint64) (consensus.SnapshotMetadata, int, error) {
	first, last, wm, err := s.bounds(tx)
	if err != nil {
		return wm, 0, err
	}
	if upTo <= first {
		return wm, 0, nil
	}
	if upTo > last+1 {
		return wm, 0, fmt.Errorf("%w: compact %d, last index %d", errCompactBeyondLog, upTo, last)
	}

	boundary, err := s.get(tx, min(upTo, last))
	if err != nil {
		return wm, 0, err
	}
	b, err := backend.MustBucket(tx, entriesBucket)
	if err != nil {
		return wm, 0, err
	}
	n, err := deleteRange(b, first, upTo)
	if err != nil {
		return wm, 0, err
	}
	return consensus.SnapshotMetadata{Index: boundary.Index, Term: boundary.Term}, n, nil
}

// clear deletes every stored entry. The watermark is left alone.
func (s entryStore) clear(tx backend.Tx) (int, error) {
	b, err := backend.MustBucket(tx, entriesBucket)
	if err != nil {
		return 0, err
	}
	return deleteRange(b, 0, math.MaxUint64)
}

// deleteRange removes the keys in [from, to).
func deleteRange(b backend.Bucket, from, to uint64) (int, error) {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(indexKey(from)); k != nil; k, _ = c.Next() {
		index, err := keyIndex(k)
		if err != nil {
			return 0, err
		}
		if index >= to {
			break
		}
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
