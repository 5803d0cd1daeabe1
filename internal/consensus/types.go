package consensus

// EntryType identifies the kind of payload carried by a log entry.
type EntryType uint8

// Supported log entry types.
const (
	EntryNormal EntryType = iota
	EntryConfChange
	EntryConfChangeV2
)

func (t EntryType) String() string {
	switch t {
	case EntryNormal:
		return "normal"
	case EntryConfChange:
		return "conf_change"
	case EntryConfChangeV2:
		return "conf_change_v2"
	default:
		return "unknown"
	}
}

// Entry is a single entry in the replicated log.
type Entry struct {
	Index   uint64
	Term    uint64
	Type    EntryType
	Data    []byte
	Context []byte
	SyncLog bool
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	cp := e
	cp.Data = cloneBytes(e.Data)
	cp.Context = cloneBytes(e.Context)
	return cp
}

// HardState is the voting and commit bookkeeping persisted before the driver
// acknowledges certain protocol messages.
type HardState struct {
	Term   uint64 `json:"term"`
	Vote   uint64 `json:"vote"`
	Commit uint64 `json:"commit"`
}

// IsEmpty reports whether hs carries no state.
func (hs HardState) IsEmpty() bool {
	return hs == HardState{}
}

// ConfState is the latest committed cluster membership.
type ConfState struct {
	Voters   []uint64 `json:"voters"`
	Learners []uint64 `json:"learners,omitempty"`
}

// IsEmpty reports whether cs has no members.
func (cs ConfState) IsEmpty() bool {
	return len(cs.Voters) == 0 && len(cs.Learners) == 0
}

// Clone returns a deep copy of cs.
func (cs ConfState) Clone() ConfState {
	return ConfState{
		Voters:   append([]uint64(nil), cs.Voters...),
		Learners: append([]uint64(nil), cs.Learners...),
	}
}

// SnapshotMetadata marks the last log entry subsumed by a snapshot.
type SnapshotMetadata struct {
	Index     uint64    `json:"index"`
	Term      uint64    `json:"term"`
	ConfState ConfState `json:"conf_state"`
}

// Snapshot is the transferable descriptor sent to lagging followers.
type Snapshot struct {
	Metadata SnapshotMetadata `json:"metadata"`
	Data     []byte           `json:"data"`
}

// IsEmpty reports whether s is the zero snapshot.
func (s Snapshot) IsEmpty() bool {
	return s.Metadata.Index == 0
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
