// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/workforest/lib/codec"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// dialTimeout is the maximum time to wait for a connection. This is
// separate from the server's read/write timeouts: it covers only the
// connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
const maxResponseSize = 4 * 1024 * 1024

// StreamIdleTimeout bounds the gap between frames on a stream. The
// daemon sends heartbeats well inside it, so expiring means the daemon
// is gone.
const StreamIdleTimeout = 90 * time.Second

// ServiceError is returned by Call when the server responds with
// ok=false. It carries the action that failed and the server's
// classification, and unwraps to the equivalent *schema.Error so
// errors.Is and schema.KindOf work across the socket.
type ServiceError struct {
	Action  string
	Kind    schema.Kind
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

func (e *ServiceError) Unwrap() error {
	kind := e.Kind
	if kind == "" {
		kind = schema.KindInternal
	}
	return &schema.Error{Kind: kind, Message: e.Message}
}

// ServiceClient sends CBOR requests to a protocol server at a TCP
// address. Each Call opens a new connection (matching the server's
// one-request-per-connection model), sends the request, reads the
// response, and closes the connection.
type ServiceClient struct {
	address string
}

// NewServiceClient creates a client for the server at address
// ("host:port").
func NewServiceClient(address string) *ServiceClient {
	return &ServiceClient{address: address}
}

// Address returns the server address the client dials.
func (c *ServiceClient) Address() string {
	return c.address
}

// Call sends a CBOR request to the server and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action" automatically. Pass nil for actions
// that take no additional parameters.
//
// On success, if result is non-nil and the response contains data, the
// data is CBOR-decoded into result. On failure (ok=false), returns a
// *ServiceError. Connection and encoding errors are returned as plain
// errors.
func (c *ServiceClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	response, err := c.send(ctx, buildRequest(action, fields))
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.address, err)
	}

	if !response.OK {
		return &ServiceError{
			Action:  action,
			Kind:    response.Kind,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// buildRequest constructs the request map from the caller's fields
// plus "action".
func buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	return request
}

// send connects, writes the request, and reads the response. Each call
// creates a new connection.
func (c *ServiceClient) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close so the server's read side sees EOF cleanly.
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.CloseWrite()
	}

	deadline := time.Now().Add(responseReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}

// Stream is an open stream-action connection. Values arrive in the
// order the server wrote them.
type Stream struct {
	conn      net.Conn
	decoder   *codec.Decoder
	stop      func() bool
	closeOnce sync.Once
}

// Stream opens a stream action. The connection stays open until the
// caller closes the Stream, the server ends it, or ctx is cancelled.
func (c *ServiceClient) Stream(ctx context.Context, action string, fields map[string]any) (*Stream, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("opening %q stream on %s: connecting: %w", action, c.address, err)
	}

	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if err := codec.NewEncoder(conn).Encode(buildRequest(action, fields)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening %q stream on %s: writing request: %w", action, c.address, err)
	}
	conn.SetWriteDeadline(time.Time{})

	return &Stream{
		conn:    conn,
		decoder: codec.NewDecoder(conn),
		stop:    context.AfterFunc(ctx, func() { conn.Close() }),
	}, nil
}

// Receive decodes the next value from the stream into v. Returns
// io.EOF when the server closed the stream cleanly.
func (s *Stream) Receive(v any) error {
	s.conn.SetReadDeadline(time.Now().Add(StreamIdleTimeout))
	if err := s.decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// Close ends the stream. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stop()
		err = s.conn.Close()
	})
	return err
}
