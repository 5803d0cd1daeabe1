package consensus

import (
	"errors"
	"fmt"
)

// ErrCompacted is returned when the requested index is below the retained
// watermark. The driver recovers by falling back to snapshot transfer.
var ErrCompacted = errors.New("consensus: requested index is unavailable due to compaction")

// ErrUnavailable is returned when the requested index is past the end of the
// log or cannot currently be read.
var ErrUnavailable = errors.New("consensus: requested entry at index is unavailable")

// ErrSnapshotTemporarilyUnavailable is returned while a snapshot is being
// generated. The driver should retry later.
var ErrSnapshotTemporarilyUnavailable = errors.New("consensus: snapshot is temporarily unavailable")

// ErrSnapOutOfDate is returned when a snapshot is not newer than the stored one.
var ErrSnapOutOfDate = errors.New("consensus: requested index is older than the existing snapshot")

// ErrGapInLog is returned when appended entries would leave a hole in the log.
var ErrGapInLog = errors.New("consensus: gap in log")

// ErrNotFound is returned when no entry is stored at the requested index.
var ErrNotFound = errors.New("consensus: entry not found")

// ErrCorruption is returned when a stored record fails to decode.
var ErrCorruption = errors.New("consensus: corrupted record")

// ErrOverwriteCompacted is returned when an append would rewrite entries that
// were already compacted away. It matches ErrCompacted.
var ErrOverwriteCompacted = fmt.Errorf("%w: append overwrites compacted entries", ErrCompacted)
