package raft

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
)

// forEachBackend runs fn against a fresh DB of every kind.
func forEachBackend(t *testing.T, maxSize int64, fn func(t *testing.T, db backend.DB)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		db := backend.NewMemory(maxSize, Buckets()...)
		t.Cleanup(func() { _ = db.Close() })
		fn(t, db)
	})
	t.Run("bolt", func(t *testing.T) {
		t.Parallel()
		db, err := backend.OpenBolt(filepath.Join(t.TempDir(), "raft.db"), maxSize, Buckets()...)
		if err != nil {
			t.Fatalf("OpenBolt() error = %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		fn(t, db)
	})
}

// forEachStore runs fn against a fresh Store on every backend kind.
func forEachStore(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Helper()

	forEachBackend(t, 0, func(t *testing.T, db backend.DB) {
		fn(t, newTestStore(t, db))
	})
}

func newTestStore(t *testing.T, db backend.DB) *Store {
	t.Helper()

	s, err := New("n1", db, slog.Default(), testTracer, testMetrics)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ents builds entries [from, to] all carrying term.
func ents(from, to, term uint64) []consensus.Entry {
	out := make([]consensus.Entry, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, consensus.Entry{Index: i, Term: term, Data: []byte(fmt.Sprintf("cmd-%d", i))})
	}
	return out
}

func mustAppend(t *testing.T, s *Store, entries []consensus.Entry) {
	t.Helper()
	if err := s.Append(entries); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

func mustFirstLast(t *testing.T, s *Store) (uint64, uint64) {
	t.Helper()
	first, err := s.FirstIndex()
	if err != nil {
		t.Fatalf("FirstIndex() error = %v", err)
	}
	last, err := s.LastIndex()
	if err != nil {
		t.Fatalf("LastIndex() error = %v", err)
	}
	return first, last
}

func indexes(entries []consensus.Entry) []uint64 {
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Index)
	}
	return out
}

// mustPanic fails the test unless fn panics with a message containing want.
func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", want)
		}
		if msg := fmt.Sprint(r); !strings.Contains(msg, want) {
			t.Fatalf("expected panic containing %q, got %q", want, msg)
		}
	}()
	fn()
}
