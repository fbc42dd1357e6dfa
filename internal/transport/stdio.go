// Package transport is the thin stdio adapter spec.md calls out as an
// external collaborator: Content-Length-framed JSON-RPC carrying the ten
// mailbox tool calls, plus an optional presentation layer for a
// human-facing CLI. None of this is load-bearing for the kernel's
// invariants; it exists so the kernel is reachable end-to-end.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/agentmaild/agentmaild/internal/dispatcher"
)

// StdioTransport carries dispatcher.Envelope messages over a
// Content-Length-header framing, the same wire shape the teacher's MCP
// stdio transport uses.
type StdioTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
	logger  *zap.Logger
}

// NewStdioTransport wraps reader/writer (typically os.Stdin/os.Stdout).
func NewStdioTransport(reader io.Reader, writer io.Writer, logger *zap.Logger) *StdioTransport {
	return &StdioTransport{
		reader: bufio.NewReader(reader),
		writer: writer,
		logger: logger.With(zap.String("component", "transport")),
	}
}

// Send writes a length-prefixed JSON envelope.
func (t *StdioTransport) Send(ctx context.Context, msg *dispatcher.Envelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := t.writer.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// Receive blocks until a length-prefixed JSON envelope arrives.
func (t *StdioTransport) Receive(ctx context.Context) (*dispatcher.Envelope, error) {
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		if _, err := fmt.Sscanf(line, "Content-Length: %d", &contentLength); err == nil {
			continue
		}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, err
	}

	var msg dispatcher.Envelope
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Close is a no-op for stdio; stdin/stdout outlive the transport.
func (t *StdioTransport) Close() error { return nil }

// Serve reads envelopes until ctx is cancelled or Receive returns io.EOF,
// dispatching each to d and writing back the result. This is the
// ServeFunc the lifecycle.Manager runs under its errgroup.
func Serve(ctx context.Context, t *StdioTransport, d *dispatcher.Dispatcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		req, err := t.Receive(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		result, rerr := d.Call(ctx, req.Method, req.Params)
		var resp *dispatcher.Envelope
		if rerr != nil {
			resp = &dispatcher.Envelope{JSONRPC: "2.0", ID: req.ID, Error: rerr}
		} else {
			resp = &dispatcher.Envelope{JSONRPC: "2.0", ID: req.ID, Result: result}
		}

		if err := t.Send(ctx, resp); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
}
