// Package admingrpc exposes a read-only view of a node's log storage over gRPC.
package admingrpc

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/i-melnichenko/raftstore/internal/backend"
	"github.com/i-melnichenko/raftstore/internal/consensus"
	raftconsensus "github.com/i-melnichenko/raftstore/internal/consensus/raft"
)

const (
	// MaxEntriesPerRequest bounds the number of entries one GetEntries call reads.
	MaxEntriesPerRequest = 1000
	// DefaultMaxBytes is the byte budget used when a request sets none.
	DefaultMaxBytes = 4 << 20
)

// StorageInspector is the subset of *raft.Store required by the admin server.
// *raft.Store satisfies this interface.
type StorageInspector interface {
	AdminState() (raftconsensus.AdminState, error)
	DumpEntries(low, high, maxSize uint64) ([]consensus.Entry, error)
	Term(index uint64) (uint64, error)
}

// Metrics captures admin request metric sinks.
type Metrics interface {
	ObserveAdminRequest(nodeID, method, code string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAdminRequest(string, string, string, time.Duration) {}

// Server implements AdminServiceServer on top of a StorageInspector.
type Server struct {
	nodeID  string
	store   StorageInspector
	tracer  oteltrace.Tracer
	metrics Metrics
}

// NewServer creates an admin gRPC server adapter. A nil metrics sink is allowed.
func NewServer(nodeID string, store StorageInspector, tracer oteltrace.Tracer, metrics Metrics) *Server {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Server{nodeID: nodeID, store: store, tracer: tracer, metrics: metrics}
}

// GetLogState returns a summary of the node's log storage.
func (s *Server) GetLogState(ctx context.Context, _ *GetLogStateRequest) (_ *GetLogStateResponse, err error) {
	defer s.observe(methodGetLogState, time.Now(), &err)
	_, span := s.tracer.Start(ctx, "admingrpc.server.GetLogState")
	defer span.End()

	st, err := s.store.AdminState()
	if err != nil {
		recordSpanError(span, err)
		return nil, toGRPCStatus(err)
	}
	span.SetAttributes(
		attribute.Int64("raft.first_index", int64(st.FirstIndex)),
		attribute.Int64("raft.last_index", int64(st.LastIndex)),
	)
	return &GetLogStateResponse{State: logStateToWire(st)}, nil
}

// GetEntries returns stored entries in the requested range, clamped to what
// the log holds.
func (s *Server) GetEntries(ctx context.Context, req *GetEntriesRequest) (_ *GetEntriesResponse, err error) {
	defer s.observe(methodGetEntries, time.Now(), &err)
	_, span := s.tracer.Start(ctx, "admingrpc.server.GetEntries", oteltrace.WithAttributes(
		attribute.Int64("raft.low", int64(req.Low)),
		attribute.Int64("raft.high", int64(req.High)),
	))
	defer span.End()

	if req.High != 0 && req.High < req.Low {
		err = status.Errorf(codes.InvalidArgument, "high %d is below low %d", req.High, req.Low)
		recordSpanError(span, err)
		return nil, err
	}
	high := req.High
	if high == 0 || high-req.Low > MaxEntriesPerRequest {
		high = req.Low + MaxEntriesPerRequest
	}
	maxBytes := req.MaxBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}

	entries, err := s.store.DumpEntries(req.Low, high, maxBytes)
	if err != nil {
		recordSpanError(span, err)
		return nil, toGRPCStatus(err)
	}
	span.SetAttributes(attribute.Int("raft.entries_count", len(entries)))

	out := &GetEntriesResponse{Entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, entryToWire(e))
	}
	return out, nil
}

// GetTerm returns the term of the entry at the requested index.
func (s *Server) GetTerm(ctx context.Context, req *GetTermRequest) (_ *GetTermResponse, err error) {
	defer s.observe(methodGetTerm, time.Now(), &err)
	_, span := s.tracer.Start(ctx, "admingrpc.server.GetTerm", oteltrace.WithAttributes(
		attribute.Int64("raft.index", int64(req.Index)),
	))
	defer span.End()

	term, err := s.store.Term(req.Index)
	if err != nil {
		recordSpanError(span, err)
		return nil, toGRPCStatus(err)
	}
	return &GetTermResponse{Index: req.Index, Term: term}, nil
}

func (s *Server) observe(method string, start time.Time, err *error) {
	s.metrics.ObserveAdminRequest(s.nodeID, method, status.Code(*err).String(), time.Since(start))
}

func toGRPCStatus(err error) error {
	switch {
	case errors.Is(err, consensus.ErrCompacted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, consensus.ErrUnavailable):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, consensus.ErrCorruption):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, backend.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func recordSpanError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

func logStateToWire(st raftconsensus.AdminState) LogState {
	return LogState{
		NodeID:            st.NodeID,
		FirstIndex:        st.FirstIndex,
		LastIndex:         st.LastIndex,
		LastTerm:          st.LastTerm,
		WatermarkIndex:    st.WatermarkIndex,
		WatermarkTerm:     st.WatermarkTerm,
		SnapshotIndex:     st.SnapshotIndex,
		SnapshotTerm:      st.SnapshotTerm,
		SnapshotSizeBytes: st.SnapshotSizeBytes,
		HardState: HardState{
			Term:   st.HardState.Term,
			Vote:   st.HardState.Vote,
			Commit: st.HardState.Commit,
		},
		Voters:           append([]uint64(nil), st.ConfState.Voters...),
		Learners:         append([]uint64(nil), st.ConfState.Learners...),
		BackendSizeBytes: st.BackendSizeBytes,
		SnapshotInFlight: st.SnapshotInFlight,
	}
}

func entryToWire(e consensus.Entry) Entry {
	return Entry{
		Index:   e.Index,
		Term:    e.Term,
		Type:    e.Type.String(),
		Data:    e.Data,
		Context: e.Context,
		SyncLog: e.SyncLog,
	}
}
