package raft

import (
	"errors"

	"github.com/i-melnichenko/raftstore/internal/backend"
)

// Logger is the structured logger used by Store. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ErrNilBackend is returned when New is called with a nil backend.
var ErrNilBackend = errors.New("raft: nil backend")

// ErrNilLogger is returned when New is called with a nil logger.
var ErrNilLogger = errors.New("raft: nil logger")

// ErrCapacityExceeded is returned when a write would grow the store past its
// configured maximum size.
var ErrCapacityExceeded = backend.ErrCapacityExceeded

var (
	errAlreadyInitialized = errors.New("raftstore: storage already initialized")
	errOutOfBound         = errors.New("raftstore: requested range out of bound")
)

const (
	opInitialState   = "initial_state"
	opEntries        = "entries"
	opTerm           = "term"
	opFirstIndex     = "first_index"
	opLastIndex      = "last_index"
	opAppend         = "append"
	opCompact        = "compact"
	opSnapshot       = "snapshot"
	opCreateSnapshot = "create_snapshot"
	opApplySnapshot  = "apply_snapshot"
	opSetHardState   = "set_hard_state"
	opSetConfState   = "set_conf_state"
	opInitialize     = "initialize"
	opClear          = "clear"
	opAdminState     = "admin_state"
)
