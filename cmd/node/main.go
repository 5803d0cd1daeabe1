// Package main implements the node process that hosts the Raft log store and
// its admin gRPC API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.opentelemetry.io/otel"

	apppkg "github.com/i-melnichenko/raftstore/internal/app"
	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
	raftconsensus "github.com/i-melnichenko/raftstore/internal/consensus/raft"
	"github.com/i-melnichenko/raftstore/internal/observability/metrics"
	admingrpc "github.com/i-melnichenko/raftstore/internal/transport/grpc/admin"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := apppkg.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.LogLevel))
	logger := slog.Default()

	prom, err := metrics.NewPrometheus(nil)
	if err != nil {
		return err
	}

	db, err := openBackend(cfg)
	if err != nil {
		return err
	}

	store, err := raftconsensus.New(cfg.NodeID, db, logger, otel.Tracer("raftstore/consensus/raft"), prom)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close storage failed", "error", err)
		}
	}()

	if err := bootstrap(store, cfg.InitialVoters, logger); err != nil {
		return err
	}

	adminSrv := admingrpc.NewServer(cfg.NodeID, store, otel.Tracer("raftstore/transport/grpc/admin"), prom)
	app, err := apppkg.New(cfg, logger, adminSrv)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return app.Run(ctx)
}

func openBackend(cfg apppkg.Config) (backend.DB, error) {
	switch cfg.Backend {
	case apppkg.BackendMemory:
		return backend.NewMemory(cfg.MaxSizeBytes, raftconsensus.Buckets()...), nil
	default:
		path := filepath.Join(cfg.DataDir, "raft.db")
		db, err := backend.OpenBolt(path, cfg.MaxSizeBytes, raftconsensus.Buckets()...)
		if err != nil {
			return nil, fmt.Errorf("open storage %s: %w", path, err)
		}
		return db, nil
	}
}

// bootstrap seeds membership on a brand-new store. A store that already holds
// state keeps it.
func bootstrap(store *raftconsensus.Store, voters []uint64, logger *slog.Logger) error {
	if len(voters) == 0 {
		return nil
	}
	ok, err := store.Initialized()
	if err != nil {
		return err
	}
	if ok {
		logger.Debug("storage already initialized, ignoring initial voters")
		return nil
	}
	return store.InitializeWithConfState(consensus.ConfState{Voters: voters})
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
