package admingrpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls the admin service of a remote node.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a node's admin endpoint.
// The connection is established lazily on the first RPC call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// GetLogState fetches the node's storage summary.
func (c *Client) GetLogState(ctx context.Context) (*LogState, error) {
	out := new(GetLogStateResponse)
	if err := c.conn.Invoke(ctx, fullMethod(methodGetLogState), &GetLogStateRequest{}, out); err != nil {
		return nil, err
	}
	return &out.State, nil
}

// GetEntries fetches entries in [low, high).
func (c *Client) GetEntries(ctx context.Context, low, high, maxBytes uint64) ([]Entry, error) {
	out := new(GetEntriesResponse)
	req := &GetEntriesRequest{Low: low, High: high, MaxBytes: maxBytes}
	if err := c.conn.Invoke(ctx, fullMethod(methodGetEntries), req, out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// GetTerm fetches the term at index.
func (c *Client) GetTerm(ctx context.Context, index uint64) (uint64, error) {
	out := new(GetTermResponse)
	if err := c.conn.Invoke(ctx, fullMethod(methodGetTerm), &GetTermRequest{Index: index}, out); err != nil {
		return 0, err
	}
	return out.Term, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
