package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/i-melnichenko/raftstore/internal/backend"
)

// BackendType selects the storage backend used by the node.
type BackendType string

// Supported storage backends.
const (
	BackendBolt   BackendType = "bolt"
	BackendMemory BackendType = "memory"
)

// Config contains runtime settings for a node process.
type Config struct {
	NodeID   string
	LogLevel string

	Backend      BackendType
	DataDir      string
	MaxSizeBytes int64

	AdminGRPCAddr string
	MetricsAddr   string
	PprofAddr     string

	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string

	// InitialVoters seeds membership on a brand-new store. Ignored once the
	// store holds any state.
	InitialVoters []uint64
}

// DefaultConfig returns a local-development configuration.
func DefaultConfig() Config {
	return Config{
		NodeID:             "node-1",
		LogLevel:           "info",
		Backend:            BackendBolt,
		DataDir:            "./var/node-1",
		MaxSizeBytes:       backend.DefaultMaxSizeBytes,
		AdminGRPCAddr:      ":9090",
		TracingEndpoint:    "localhost:4317",
		TracingServiceName: "raftstore",
	}
}

// LoadConfigFromEnv loads config from environment variables.
//
// Supported vars:
// - APP_NODE_ID
// - APP_LOG_LEVEL (debug|info|warn|error)
// - APP_BACKEND (bolt|memory)
// - APP_DATA_DIR
// - APP_MAX_STORAGE_BYTES (int, > 0)
// - APP_ADMIN_GRPC_ADDR
// - APP_METRICS_ADDR (empty = disabled)
// - APP_PPROF_ADDR (empty = disabled)
// - APP_TRACING_ENABLED (bool)
// - APP_TRACING_ENDPOINT
// - APP_TRACING_SERVICE_NAME
// - APP_INITIAL_VOTERS (comma-separated uint64 ids)
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("APP_NODE_ID")); v != "" {
		cfg.NodeID = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_BACKEND")); v != "" {
		cfg.Backend = BackendType(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("APP_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_MAX_STORAGE_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_MAX_STORAGE_BYTES %q: %w", v, err)
		}
		cfg.MaxSizeBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("APP_ADMIN_GRPC_ADDR")); v != "" {
		cfg.AdminGRPCAddr = v
	}
	if v, ok := os.LookupEnv("APP_METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("APP_PPROF_ADDR"); ok {
		cfg.PprofAddr = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_TRACING_ENABLED %q: %w", v, err)
		}
		cfg.TracingEnabled = b
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_ENDPOINT")); v != "" {
		cfg.TracingEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_SERVICE_NAME")); v != "" {
		cfg.TracingServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_INITIAL_VOTERS")); v != "" {
		voters, err := parseVoters(v)
		if err != nil {
			return Config{}, err
		}
		cfg.InitialVoters = voters
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and supported.
func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("app: node id is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app: unsupported log level %q", c.LogLevel)
	}
	switch c.Backend {
	case BackendBolt:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("app: data dir is required for the %s backend", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("app: unsupported backend %q", c.Backend)
	}
	if c.MaxSizeBytes <= 0 {
		return fmt.Errorf("app: max storage bytes must be positive, got %d", c.MaxSizeBytes)
	}
	if strings.TrimSpace(c.AdminGRPCAddr) == "" {
		return fmt.Errorf("app: admin grpc addr is required")
	}
	if c.TracingEnabled && strings.TrimSpace(c.TracingEndpoint) == "" {
		return fmt.Errorf("app: tracing endpoint is required when tracing is enabled")
	}
	return nil
}

func parseVoters(raw string) ([]uint64, error) {
	parts := splitCSV(raw)
	out := make([]uint64, 0, len(parts))
	seen := make(map[uint64]struct{}, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("app: invalid voter id %q in APP_INITIAL_VOTERS", p)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("app: duplicate voter id %d in APP_INITIAL_VOTERS", id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
