// Package main implements the CLI client for the node admin API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	admingrpc "github.com/i-melnichenko/raftstore/internal/transport/grpc/admin"
)

const usage = `Usage:
  client [--addr host:port[,host:port,...]] state
  client [--addr host:port] entries [--low N] [--high N] [--max-bytes N]
  client [--addr host:port] term <index>
  client [--addr host:port[,host:port,...]] watch

Subcommands:
  state    prints the log summary of every node
  entries  dumps entries in [low, high) from the first node
  term     prints the term of one index from the first node
  watch    polls every node and renders a live table

Flags:
  --addr     Comma-separated admin gRPC addresses (default localhost:9090)
  --timeout  Request timeout (default 5s)
`

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:9090", "comma-separated admin gRPC addresses")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Usage = func() { _, _ = fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("subcommand required: state | entries | term | watch")
	}

	addrs := splitAddrs(*addr)
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses provided")
	}

	switch args[0] {
	case "state":
		if len(args) != 1 {
			return fmt.Errorf("usage: state")
		}
		return cmdState(addrs, *timeout)

	case "entries":
		fs := flag.NewFlagSet("entries", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		low := fs.Uint64("low", 0, "first index, 0 means the first stored index")
		high := fs.Uint64("high", 0, "exclusive upper bound, 0 means a server-side page")
		maxBytes := fs.Uint64("max-bytes", 0, "response size budget, 0 means the server default")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 0 {
			return fmt.Errorf("usage: entries [--low N] [--high N] [--max-bytes N]")
		}
		client, err := dial(addrs[0])
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		return cmdEntries(ctx, client, *low, *high, *maxBytes)

	case "term":
		if len(args) != 2 {
			return fmt.Errorf("usage: term <index>")
		}
		index, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[1], err)
		}
		client, err := dial(addrs[0])
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		return cmdTerm(ctx, client, index)

	case "watch":
		if len(args) != 1 {
			return fmt.Errorf("usage: watch")
		}
		return cmdWatch(addrs, *timeout)

	default:
		flag.Usage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func dial(addr string) (*admingrpc.Client, error) {
	client, err := admingrpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial admin %s: %w", addr, err)
	}
	return client, nil
}

func cmdState(addrs []string, timeout time.Duration) error {
	var failed int
	for i, addr := range addrs {
		if i > 0 {
			fmt.Println()
		}
		client, err := dial(addr)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		state, err := client.GetLogState(ctx)
		cancel()
		_ = client.Close()
		if err != nil {
			failed++
			fmt.Println(renderNodeError(addr, err))
			continue
		}
		fmt.Println(renderLogState(addr, state))
	}
	if failed == len(addrs) {
		return fmt.Errorf("no node answered")
	}
	return nil
}

func cmdEntries(ctx context.Context, c *admingrpc.Client, low, high, maxBytes uint64) error {
	if low == 0 {
		state, err := c.GetLogState(ctx)
		if err != nil {
			return err
		}
		low = state.FirstIndex
	}
	entries, err := c.GetEntries(ctx, low, high, maxBytes)
	if status.Code(err) == codes.FailedPrecondition {
		return fmt.Errorf("index %d is compacted, use a higher --low", low)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("(no entries)")
		return nil
	}
	fmt.Println(renderEntries(entries))
	return nil
}

func cmdTerm(ctx context.Context, c *admingrpc.Client, index uint64) error {
	term, err := c.GetTerm(ctx, index)
	switch status.Code(err) {
	case codes.OK:
		fmt.Printf("index %d term %d\n", index, term)
		return nil
	case codes.FailedPrecondition:
		return fmt.Errorf("index %d is compacted", index)
	case codes.OutOfRange:
		return fmt.Errorf("index %d is not in the log yet", index)
	}
	if errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded {
		return fmt.Errorf("timeout: %s", oneLineErr(err))
	}
	return err
}

func oneLineErr(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}

func splitAddrs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
