// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/workforest/lib/codec"
	"github.com/bureau-foundation/workforest/lib/netutil"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// ActionFunc processes a request for a specific action. The raw
// parameter is the full CBOR request (including the "action" field).
// The handler decodes action-specific fields from this raw message.
//
// Return a value to include in the success response, or an error for
// a failure response. If the returned value is nil, the response
// contains only {ok: true}. Errors are classified with schema.KindOf,
// so handlers should return *schema.Error where the kind matters.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc takes over a connection after the request has been
// decoded. The handler owns the connection until it returns; the
// server closes it afterwards. ctx is cancelled when the server shuts
// down, and a handler that blocks must watch it.
type StreamFunc func(ctx context.Context, raw []byte, conn net.Conn)

// Response is the wire-format envelope for request-response actions.
// Handlers return a result value (or nil) and an error; the server
// wraps these into a Response before encoding.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Kind  schema.Kind      `cbor:"kind,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves the CBOR request-response protocol on a
// listener. Each connection handles exactly one request: the client
// writes a CBOR value, the server processes it and either writes one
// CBOR response or, for stream actions, hands the connection to the
// stream handler.
//
// Actions are registered with Handle and HandleStream before calling
// Serve. Unknown actions receive an invalid_request error.
type SocketServer struct {
	listener net.Listener
	handlers map[string]ActionFunc
	streams  map[string]StreamFunc
	logger   *slog.Logger

	// activeConnections tracks in-flight handlers for graceful
	// shutdown. Serve waits for all of them before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will accept on listener. The
// server takes ownership of the listener and closes it when Serve
// returns.
func NewSocketServer(listener net.Listener, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		listener: listener,
		handlers: make(map[string]ActionFunc),
		streams:  make(map[string]StreamFunc),
		logger:   logger,
	}
}

// Addr returns the listener's address.
func (s *SocketServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Handle registers a handler for the given action name. Panics if the
// action is already registered.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	s.checkDuplicate(action)
	s.handlers[action] = handler
}

// HandleStream registers a stream handler for the given action name.
// Panics if the action is already registered.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	s.checkDuplicate(action)
	s.streams[action] = handler
}

func (s *SocketServer) checkDuplicate(action string) {
	_, request := s.handlers[action]
	_, stream := s.streams[action]
	if request || stream {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
}

// Serve accepts connections and dispatches requests to registered
// handlers. Blocks until ctx is cancelled, then stops accepting new
// connections and waits for active handlers to complete.
func (s *SocketServer) Serve(ctx context.Context) error {
	defer s.listener.Close()

	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() {
		s.listener.Close()
	})
	defer stop()

	s.logger.Info("protocol server listening", "address", s.listener.Addr().String())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long we wait for the client to send its request.
// A well-behaved client sends the request immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long we wait for a response to be written.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request.
const maxRequestSize = 1024 * 1024

// handleConnection processes one request.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR is self-delimiting so no framing is needed. LimitReader
	// bounds what a misbehaving client can make us buffer.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if netutil.IsPeerGone(err) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, schema.Errorf(schema.KindInvalidRequest, "invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, schema.Errorf(schema.KindInvalidRequest, "invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, schema.Errorf(schema.KindInvalidRequest, "missing required field: action"))
		return
	}

	if stream, ok := s.streams[header.Action]; ok {
		conn.SetReadDeadline(time.Time{})
		stream(ctx, []byte(raw), conn)
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, schema.Errorf(schema.KindInvalidRequest, "unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed",
			"action", header.Action,
			"kind", schema.KindOf(err),
			"error", err,
		)
		s.writeError(conn, err)
		return
	}

	s.writeSuccess(conn, result)
}

// writeError sends a failure response: {ok: false, kind, error}.
// Write failures are logged at debug level since the connection is
// closing regardless.
func (s *SocketServer) writeError(conn net.Conn, err error) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if encodeErr := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Kind:  schema.KindOf(err),
		Error: err.Error(),
	}); encodeErr != nil {
		s.logger.Debug("failed to write error response", "error", encodeErr)
	}
}

// writeSuccess sends a success response. If result is nil, the
// response is {ok: true}. Otherwise the value is marshaled as CBOR and
// placed in the "data" field.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}

	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, schema.Wrap(schema.KindInternal, err, "marshaling response"))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
