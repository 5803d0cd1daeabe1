// Package app wires the log store and its admin surfaces into a runnable node.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	admingrpc "github.com/i-melnichenko/raftstore/internal/transport/grpc/admin"
)

// Logger is the logging interface required by App.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// App runs the admin gRPC server plus optional metrics and pprof endpoints.
// All dependencies are injected; App does not open storage itself.
type App struct {
	config   Config
	logger   Logger
	adminSrv admingrpc.AdminServiceServer
}

// New validates dependencies and constructs a runnable application.
func New(cfg Config, logger Logger, adminSrv admingrpc.AdminServiceServer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("app: nil logger")
	}
	if adminSrv == nil {
		return nil, fmt.Errorf("app: nil admin server")
	}
	return &App{
		config:   cfg,
		logger:   logger,
		adminSrv: adminSrv,
	}, nil
}

// Run starts tracing and all listeners and blocks until ctx is canceled or a
// fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	shutdownTracing, err := a.initTracing(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	lis, err := net.Listen("tcp", a.config.AdminGRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", a.config.AdminGRPCAddr, err)
	}
	defer func() { _ = lis.Close() }()

	metricsMux, err := a.metricsHandler()
	if err != nil {
		return err
	}
	metricsHTTP, err := a.listenHTTP("metrics", a.config.MetricsAddr, metricsMux)
	if err != nil {
		return err
	}
	defer metricsHTTP.close(a.logger)

	pprofHTTP, err := a.listenHTTP("pprof", a.config.PprofAddr, pprofHandler())
	if err != nil {
		return err
	}
	defer pprofHTTP.close(a.logger)

	a.logger.Info(
		"node started",
		"node_id", a.config.NodeID,
		"backend", a.config.Backend,
		"admin_grpc_addr", a.config.AdminGRPCAddr,
		"metrics_addr", a.config.MetricsAddr,
		"pprof_addr", a.config.PprofAddr,
	)

	return a.serve(ctx, lis, []httpListener{metricsHTTP, pprofHTTP})
}

// serve registers gRPC services, starts goroutines, and blocks until ctx is
// canceled or a fatal error occurs.
func (a *App) serve(ctx context.Context, lis net.Listener, extra []httpListener) error {
	server := grpc.NewServer()
	admingrpc.RegisterAdminServiceServer(server, a.adminSrv)
	reflection.Register(server)

	errCh := make(chan error, 1+len(extra))

	go func() {
		if err := server.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	for _, h := range extra {
		if h.srv == nil {
			continue
		}
		go func() {
			if err := h.srv.Serve(h.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s serve: %w", h.name, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		server.GracefulStop()
		return nil
	case err := <-errCh:
		server.Stop()
		return err
	}
}
