package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	httpReadHeaderTimeout = 5 * time.Second
	httpShutdownTimeout   = 5 * time.Second
)

// pprofProfiles are served through pprof.Handler in addition to the
// index, cmdline, profile, symbol and trace endpoints.
var pprofProfiles = []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"}

var registerRuntimeCollectorsOnce sync.Once

// httpListener is an optional side HTTP endpoint of the node. A zero srv
// means the endpoint is disabled.
type httpListener struct {
	name string
	srv  *http.Server
	lis  net.Listener
}

func (a *App) listenHTTP(name, addr string, handler http.Handler) (httpListener, error) {
	h := httpListener{name: name}
	if addr == "" {
		return h, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return h, fmt.Errorf("listen %s %s: %w", name, addr, err)
	}
	h.lis = lis
	h.srv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}
	return h, nil
}

// close shuts the endpoint down whether or not it ever started serving.
func (h httpListener) close(logger Logger) {
	if h.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn(h.name+" server shutdown failed", "error", err)
	}
	_ = h.lis.Close()
}

// metricsHandler serves /metrics and /healthz. Go runtime and process
// collectors carry the node id and backend as constant labels.
func (a *App) metricsHandler() (http.Handler, error) {
	var regErr error
	registerRuntimeCollectorsOnce.Do(func() {
		reg := prometheus.WrapRegistererWith(prometheus.Labels{
			"node_id": a.config.NodeID,
			"backend": string(a.config.Backend),
		}, prometheus.DefaultRegisterer)
		for _, c := range []prometheus.Collector{
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					regErr = fmt.Errorf("metrics register runtime collector: %w", err)
					return
				}
			}
		}
	})
	if regErr != nil {
		return nil, regErr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", a.healthz)
	return mux, nil
}

type healthStatus struct {
	Status  string `json:"status"`
	NodeID  string `json:"node_id"`
	Backend string `json:"backend"`
}

func (a *App) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthStatus{
		Status:  "ok",
		NodeID:  a.config.NodeID,
		Backend: string(a.config.Backend),
	})
}

func pprofHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	for _, name := range pprofProfiles {
		mux.Handle("/debug/pprof/"+name, pprof.Handler(name))
	}
	return mux
}
