package raft

import (
	"math"

	"github.com/i-melnichenko/raftstore/internal/consensus"
)

// NoLimit disables size bounding in Entries.
const NoLimit uint64 = math.MaxUint64

// EntryOverhead is the fixed per-entry cost added to payload and context:
// index (8) + term (8) + type (1) + sync flag (1).
const EntryOverhead = 18

// EntrySize returns the size accounted for e when bounding batches.
func EntrySize(e consensus.Entry) uint64 {
	return uint64(len(e.Data)+len(e.Context)) + EntryOverhead
}

// LimitSize returns the longest prefix of entries whose cumulative size does not
// exceed maxSize. The first entry is always kept so that a single oversized
// entry never stalls replication.
func LimitSize(entries []consensus.Entry, maxSize uint64) []consensus.Entry {
	if len(entries) <= 1 || maxSize == NoLimit {
		return entries
	}
	size := EntrySize(entries[0])
	for i := 1; i < len(entries); i++ {
		size += EntrySize(entries[i])
		if size > maxSize {
			return entries[:i]
		}
	}
	return entries
}
