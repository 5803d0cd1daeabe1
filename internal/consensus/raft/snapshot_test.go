package raft

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/i-melnichenko/raftstore/internal/consensus"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStore_CreateSnapshot(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s *Store) {
		cs := consensus.ConfState{Voters: []uint64{1, 2}}
		if err := s.InitializeWithConfState(cs); err != nil {
			t.Fatalf("InitializeWithConfState() error = %v", err)
		}
		mustAppend(t, s, termedEnts(1, 6))

		snap, err := s.CreateSnapshot(4, nil, []byte("state@4"))
		if err != nil {
			t.Fatalf("CreateSnapshot() error = %v", err)
		}
		want := consensus.Snapshot{
			Metadata: consensus.SnapshotMetadata{Index: 4, Term: 4, ConfState: cs},
			Data:     []byte("state@4"),
		}
		if !reflect.DeepEqual(snap, want) {
			t.Fatalf("expected %+v, got %+v", want, snap)
		}

		got, err := s.Snapshot(3, 2)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %+v, got %+v", want, got)
		}

		// Creating a snapshot leaves the log alone.
		if first, last := mustFirstLast(t, s); first != 1 || last != 6 {
			t.Fatalf("expected [1, 6], got [%d, %d]", first, last)
		}
	})
}

func TestStore_CreateSnapshotRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		index uint64
		want  error
	}{
		{name: "not newer than stored", index: 5, want: consensus.ErrSnapOutOfDate},
		{name: "beyond last index", index: 11, want: consensus.ErrUnavailable},
		{name: "compacted", index: 6, want: consensus.ErrCompacted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			forEachStore(t, func(t *testing.T, s *Store) {
				mustAppend(t, s, termedEnts(1, 10))
				if _, err := s.CreateSnapshot(5, nil, nil); err != nil {
					t.Fatalf("CreateSnapshot() error = %v", err)
				}
				if err := s.Compact(8); err != nil {
					t.Fatalf("Compact() error = %v", err)
				}
				if _, err := s.CreateSnapshot(tt.index, nil, nil); !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
			})
		})
	}
}

func TestStore_ApplySnapshot(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s *Store) {
		mustAppend(t, s, termedEnts(1, 5))

		cs := consensus.ConfState{Voters: []uint64{1, 2, 3}}
		snap := consensus.Snapshot{
			Metadata: consensus.SnapshotMetadata{Index: 8, Term: 7, ConfState: cs},
			Data:     []byte("leader state"),
		}
		if err := s.ApplySnapshot(snap); err != nil {
			t.Fatalf("ApplySnapshot() error = %v", err)
		}

		first, last := mustFirstLast(t, s)
		if first != 9 || last != 8 {
			t.Fatalf("expected first=9 last=8, got %d %d", first, last)
		}
		if term, err := s.Term(8); err != nil || term != 7 {
			t.Fatalf("expected boundary term 7, got %d (err=%v)", term, err)
		}
		_, gotCS, err := s.InitialState()
		if err != nil {
			t.Fatalf("InitialState() error = %v", err)
		}
		if !reflect.DeepEqual(gotCS, cs) {
			t.Fatalf("expected %+v, got %+v", cs, gotCS)
		}
		got, err := s.Snapshot(8, 2)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if !reflect.DeepEqual(got, snap) {
			t.Fatalf("expected %+v, got %+v", snap, got)
		}

		stale := snap
		stale.Metadata.Index = 8
		if err := s.ApplySnapshot(stale); !errors.Is(err, consensus.ErrSnapOutOfDate) {
			t.Fatalf("expected ErrSnapOutOfDate, got %v", err)
		}

		mustAppend(t, s, termedEnts(9, 9))
		if _, last := mustFirstLast(t, s); last != 9 {
			t.Fatalf("expected last=9, got %d", last)
		}
	})
}

func TestStore_SnapshotWithoutSource(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s *Store) {
		if _, err := s.Snapshot(1, 2); !errors.Is(err, consensus.ErrSnapshotTemporarilyUnavailable) {
			t.Fatalf("expected ErrSnapshotTemporarilyUnavailable, got %v", err)
		}

		mustAppend(t, s, termedEnts(1, 3))
		if _, err := s.CreateSnapshot(2, nil, []byte("s")); err != nil {
			t.Fatalf("CreateSnapshot() error = %v", err)
		}
		// Without a way to build a newer one the stored snapshot is the best answer.
		got, err := s.Snapshot(3, 2)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if got.Metadata.Index != 2 {
			t.Fatalf("expected snapshot at 2, got %d", got.Metadata.Index)
		}
	})
}

func TestStore_SnapshotGeneratesInBackground(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s *Store) {
		ctrl := gomock.NewController(t)
		t.Cleanup(ctrl.Finish)

		mustAppend(t, s, termedEnts(1, 6))

		release := make(chan struct{})
		source := NewMockSnapshotSource(ctrl)
		source.EXPECT().
			SnapshotData(gomock.Any()).
			DoAndReturn(func(ctx context.Context) (uint64, []byte, error) {
				<-release
				return 5, []byte("state@5"), nil
			}).
			Times(1)
		s.SnapshotSource = source

		for i := 0; i < 3; i++ {
			if _, err := s.Snapshot(5, 2); !errors.Is(err, consensus.ErrSnapshotTemporarilyUnavailable) {
				t.Fatalf("expected ErrSnapshotTemporarilyUnavailable, got %v", err)
			}
		}
		if !s.snapshotInFlight() {
			t.Fatal("expected generation in flight")
		}
		close(release)
		waitFor(t, "snapshot generation", func() bool { return !s.snapshotInFlight() })

		got, err := s.Snapshot(5, 2)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if got.Metadata.Index != 5 || got.Metadata.Term != 5 || string(got.Data) != "state@5" {
			t.Fatalf("unexpected snapshot %+v", got)
		}
	})
}

func TestStore_SnapshotSourceFailureIsRetried(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s *Store) {
		ctrl := gomock.NewController(t)
		t.Cleanup(ctrl.Finish)

		mustAppend(t, s, termedEnts(1, 3))

		source := NewMockSnapshotSource(ctrl)
		gomock.InOrder(
			source.EXPECT().SnapshotData(gomock.Any()).Return(uint64(0), nil, errors.New("state machine busy")),
			source.EXPECT().SnapshotData(gomock.Any()).Return(uint64(3), []byte("ok"), nil),
		)
		s.SnapshotSource = source

		if _, err := s.Snapshot(3, 2); !errors.Is(err, consensus.ErrSnapshotTemporarilyUnavailable) {
			t.Fatalf("expected ErrSnapshotTemporarilyUnavailable, got %v", err)
		}
		waitFor(t, "failed generation", func() bool { return !s.snapshotInFlight() })

		if _, err := s.Snapshot(3, 2); !errors.Is(err, consensus.ErrSnapshotTemporarilyUnavailable) {
			t.Fatalf("expected ErrSnapshotTemporarilyUnavailable, got %v", err)
		}
		waitFor(t, "second generation", func() bool { return !s.snapshotInFlight() })

		got, err := s.Snapshot(3, 2)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if got.Metadata.Index != 3 {
			t.Fatalf("expected snapshot at 3, got %d", got.Metadata.Index)
		}
	})
}

func TestStore_CloseCancelsSnapshotGeneration(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s *Store) {
		ctrl := gomock.NewController(t)
		t.Cleanup(ctrl.Finish)

		mustAppend(t, s, termedEnts(1, 3))

		started := make(chan struct{})
		source := NewMockSnapshotSource(ctrl)
		source.EXPECT().
			SnapshotData(gomock.Any()).
			DoAndReturn(func(ctx context.Context) (uint64, []byte, error) {
				close(started)
				<-ctx.Done()
				return 0, nil, ctx.Err()
			}).
			Times(1)
		s.SnapshotSource = source

		if _, err := s.Snapshot(3, 2); !errors.Is(err, consensus.ErrSnapshotTemporarilyUnavailable) {
			t.Fatalf("expected ErrSnapshotTemporarilyUnavailable, got %v", err)
		}
		<-started

		done := make(chan error, 1)
		go func() { done <- s.Close() }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Close() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Close() did not return")
		}
	})
}
