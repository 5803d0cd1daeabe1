// Package consensus defines the storage contract between a Raft-style consensus
// driver and the log-storage engine that backs it.
//
// The driver owns elections, replication and message dispatch. It only talks to
// storage through Storage, so any engine satisfying it can be plugged in.
package consensus

// Storage is the interface implemented by the log-storage engine.
//
// Read methods return typed, recoverable errors (ErrCompacted, ErrUnavailable).
// Write methods treat contract violations (gaps, overwriting compacted history)
// as fatal.
type Storage interface {
	// InitialState returns the latest committed HardState and ConfState.
	InitialState() (HardState, ConfState, error)

	// Entries returns the entries in [low, high), bounded by maxSize bytes.
	// At least one entry is returned whenever low < high.
	Entries(low, high, maxSize uint64) ([]Entry, error)

	// Term returns the term of the entry at index. The term of the watermark
	// index stays answerable after the entry itself has been compacted.
	Term(index uint64) (uint64, error)

	// FirstIndex returns the index of the first retained entry.
	FirstIndex() (uint64, error)

	// LastIndex returns the index of the last stored entry.
	LastIndex() (uint64, error)

	// Snapshot returns a snapshot covering at least requestIndex for peer to.
	// ErrSnapshotTemporarilyUnavailable asks the driver to retry later.
	Snapshot(requestIndex, to uint64) (Snapshot, error)

	// Append durably appends entries, truncating any conflicting suffix.
	Append(entries []Entry) error

	// Compact discards all entries before index.
	Compact(index uint64) error
}
