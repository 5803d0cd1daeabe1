package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	apppkg "github.com/i-melnichenko/raftstore/internal/app"
	raftconsensus "github.com/i-melnichenko/raftstore/internal/consensus/raft"
)

func TestOpenBackendAndBootstrap(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, backendType := range []apppkg.BackendType{apppkg.BackendMemory, apppkg.BackendBolt} {
		t.Run(string(backendType), func(t *testing.T) {
			t.Parallel()

			cfg := apppkg.DefaultConfig()
			cfg.Backend = backendType
			cfg.DataDir = filepath.Join(t.TempDir(), "node")

			db, err := openBackend(cfg)
			if err != nil {
				t.Fatalf("openBackend() error = %v", err)
			}
			store, err := raftconsensus.New("n1", db, logger, nil, nil)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer func() { _ = store.Close() }()

			if err := bootstrap(store, []uint64{1, 2, 3}, logger); err != nil {
				t.Fatalf("bootstrap() error = %v", err)
			}
			// A second bootstrap on a restarted node keeps the stored membership.
			if err := bootstrap(store, []uint64{9}, logger); err != nil {
				t.Fatalf("bootstrap() second call error = %v", err)
			}

			_, cs, err := store.InitialState()
			if err != nil {
				t.Fatalf("InitialState() error = %v", err)
			}
			if len(cs.Voters) != 3 || cs.Voters[0] != 1 || cs.Voters[2] != 3 {
				t.Fatalf("voters = %v, want [1 2 3]", cs.Voters)
			}
		})
	}
}

func TestBootstrapWithoutVotersIsNoop(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := apppkg.DefaultConfig()
	cfg.Backend = apppkg.BackendMemory
	db, err := openBackend(cfg)
	if err != nil {
		t.Fatalf("openBackend() error = %v", err)
	}
	store, err := raftconsensus.New("n1", db, logger, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := bootstrap(store, nil, logger); err != nil {
		t.Fatalf("bootstrap() error = %v", err)
	}
	ok, err := store.Initialized()
	if err != nil {
		t.Fatalf("Initialized() error = %v", err)
	}
	if ok {
		t.Fatal("Initialized() = true, want false")
	}
}
