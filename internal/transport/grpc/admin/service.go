package admingrpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "raftstore.admin.v1.AdminService"

const (
	methodGetLogState = "GetLogState"
	methodGetEntries  = "GetEntries"
	methodGetTerm     = "GetTerm"
)

// GetLogStateRequest asks for a summary of the node's log storage.
type GetLogStateRequest struct{}

// GetLogStateResponse carries the storage summary.
type GetLogStateResponse struct {
	State LogState `json:"state"`
}

// LogState mirrors raft.AdminState on the wire.
type LogState struct {
	NodeID            string    `json:"node_id"`
	FirstIndex        uint64    `json:"first_index"`
	LastIndex         uint64    `json:"last_index"`
	LastTerm          uint64    `json:"last_term"`
	WatermarkIndex    uint64    `json:"watermark_index"`
	WatermarkTerm     uint64    `json:"watermark_term"`
	SnapshotIndex     uint64    `json:"snapshot_index"`
	SnapshotTerm      uint64    `json:"snapshot_term"`
	SnapshotSizeBytes int64     `json:"snapshot_size_bytes"`
	HardState         HardState `json:"hard_state"`
	Voters            []uint64  `json:"voters,omitempty"`
	Learners          []uint64  `json:"learners,omitempty"`
	BackendSizeBytes  int64     `json:"backend_size_bytes"`
	SnapshotInFlight  bool      `json:"snapshot_in_flight"`
}

// HardState mirrors consensus.HardState on the wire.
type HardState struct {
	Term   uint64 `json:"term"`
	Vote   uint64 `json:"vote"`
	Commit uint64 `json:"commit"`
}

// GetEntriesRequest reads [Low, High). High == 0 reads up to the request limit.
// MaxBytes == 0 applies the server default.
type GetEntriesRequest struct {
	Low      uint64 `json:"low"`
	High     uint64 `json:"high"`
	MaxBytes uint64 `json:"max_bytes"`
}

// GetEntriesResponse carries the entries found in the requested range.
type GetEntriesResponse struct {
	Entries []Entry `json:"entries"`
}

// Entry mirrors consensus.Entry on the wire.
type Entry struct {
	Index   uint64 `json:"index"`
	Term    uint64 `json:"term"`
	Type    string `json:"type"`
	Data    []byte `json:"data,omitempty"`
	Context []byte `json:"context,omitempty"`
	SyncLog bool   `json:"sync_log,omitempty"`
}

// GetTermRequest asks for the term of one index.
type GetTermRequest struct {
	Index uint64 `json:"index"`
}

// GetTermResponse carries the term at Index.
type GetTermResponse struct {
	Index uint64 `json:"index"`
	Term  uint64 `json:"term"`
}

// AdminServiceServer is the server API for the admin service.
type AdminServiceServer interface {
	GetLogState(context.Context, *GetLogStateRequest) (*GetLogStateResponse, error)
	GetEntries(context.Context, *GetEntriesRequest) (*GetEntriesResponse, error)
	GetTerm(context.Context, *GetTermRequest) (*GetTermResponse, error)
}

// RegisterAdminServiceServer registers srv on s.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetLogState, Handler: getLogStateHandler},
		{MethodName: methodGetEntries, Handler: getEntriesHandler},
		{MethodName: methodGetTerm, Handler: getTermHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func getLogStateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetLogStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).GetLogState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodGetLogState)}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServiceServer).GetLogState(ctx, req.(*GetLogStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetEntriesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).GetEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodGetEntries)}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServiceServer).GetEntries(ctx, req.(*GetEntriesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getTermHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetTermRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).GetTerm(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodGetTerm)}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServiceServer).GetTerm(ctx, req.(*GetTermRequest))
	}
	return interceptor(ctx, in, info, handler)
}
