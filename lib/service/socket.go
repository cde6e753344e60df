// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/codec"
)

const (
	// socketReadTimeout bounds how long a client may take to send its
	// request.
	socketReadTimeout = 30 * time.Second

	// socketWriteTimeout bounds writing one response envelope.
	socketWriteTimeout = 10 * time.Second

	// maxRequestSize caps one CBOR request. A report with a full
	// metrics map is a few kilobytes.
	maxRequestSize = 1 << 20
)

// ActionFunc handles one request/response action. raw is the whole
// CBOR request map, "action" included. A nil result produces
// {ok: true} with no data.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc validates a stream request and returns the body that
// produces it. An error is sent as the failure response; nothing has
// been written to the connection yet.
type StreamFunc func(ctx context.Context, raw []byte) (StreamBody, error)

// StreamBody writes CBOR values after the {ok: true} acknowledgment.
// ctx ends when the server shuts down or the client hangs up. The body
// manages its own write deadlines. The connection is closed when it
// returns.
type StreamBody func(ctx context.Context, conn net.Conn) error

// Response is the envelope of every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves the CBOR action protocol on a unix socket. A
// connection carries one request. Plain actions get one Response and
// the connection closes; stream actions keep it open for the body.
// Register every action before Serve.
type SocketServer struct {
	socketPath string
	logger     *slog.Logger
	actions    map[string]ActionFunc
	streams    map[string]StreamFunc

	// connections counts handlers still running. Serve waits for it.
	connections sync.WaitGroup
}

// NewSocketServer returns a server for socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		logger:     logger,
		actions:    make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
	}
}

// Handle registers a request/response action. Registering a name twice
// panics.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	s.mustBeFree(action)
	s.actions[action] = handler
}

// HandleStream registers a stream action. Registering a name twice
// panics.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	s.mustBeFree(action)
	s.streams[action] = handler
}

func (s *SocketServer) mustBeFree(action string) {
	_, plain := s.actions[action]
	_, stream := s.streams[action]
	if plain || stream {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
}

// Serve listens on the socket until ctx is cancelled, then waits for
// running handlers. A leftover socket file from a previous run is
// replaced, and the file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("socket server listening", "path", s.socketPath)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			defer conn.Close()
			s.serveConnection(ctx, conn)
		}()
	}
	listener.Close()
	s.connections.Wait()
	return nil
}

// readRequest decodes the request and its action name.
func readRequest(conn net.Conn) (string, codec.RawMessage, error) {
	conn.SetReadDeadline(time.Now().Add(socketReadTimeout))

	// CBOR values are self-delimiting; no framing is needed.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		return "", nil, err
	}
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return "", nil, err
	}
	if header.Action == "" {
		return "", nil, errors.New("missing required field: action")
	}
	return header.Action, raw, nil
}

func (s *SocketServer) serveConnection(ctx context.Context, conn net.Conn) {
	action, raw, err := readRequest(conn)
	switch {
	case errors.Is(err, io.EOF):
		return
	case err != nil:
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	if stream, ok := s.streams[action]; ok {
		s.serveStream(ctx, conn, action, stream, raw)
		return
	}
	handler, ok := s.actions[action]
	if !ok {
		s.writeError(conn, fmt.Sprintf("unknown action %q", action))
		return
	}
	result, err := handler(ctx, raw)
	if err != nil {
		s.logger.Debug("action failed", "action", action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

// serveStream acknowledges a stream request and runs its body until
// the body returns, the server stops, or the client hangs up.
func (s *SocketServer) serveStream(ctx context.Context, conn net.Conn, action string, stream StreamFunc, raw []byte) {
	body, err := stream(ctx, raw)
	if err != nil {
		s.logger.Debug("stream action failed", "action", action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	if !s.writeSuccess(conn, nil) {
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Clients send nothing after the request, so any read result,
	// EOF included, means the client is gone.
	conn.SetDeadline(time.Time{})
	go func() {
		var discard [1]byte
		conn.Read(discard[:])
		cancel()
	}()

	if err := body(streamCtx, conn); err != nil && streamCtx.Err() == nil {
		s.logger.Debug("stream ended with error", "action", action, "error", err)
	}
}

// writeError sends {ok: false, error: message}. The connection is
// closing either way, so a failed write is only logged.
func (s *SocketServer) writeError(conn net.Conn, message string) {
	s.write(conn, Response{Error: message})
}

// writeSuccess sends {ok: true} with result, if any, CBOR-encoded in
// data. Reports whether the client got the response.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) bool {
	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return false
		}
		response.Data = data
	}
	return s.write(conn, response)
}

func (s *SocketServer) write(conn net.Conn, response Response) bool {
	conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("writing response failed", "ok", response.OK, "error", err)
		return false
	}
	return true
}
