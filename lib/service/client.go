// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/codec"
)

const (
	// dialTimeout covers only connecting to the socket.
	dialTimeout = 5 * time.Second

	// responseReadTimeout is the wait for a plain action's reply. It
	// exceeds the server's read and write timeouts combined.
	responseReadTimeout = 45 * time.Second

	// maxResponseSize caps one reply. A full snapshot plus a maximal
	// activity page fits with room to spare.
	maxResponseSize = 4 << 20
)

// ServiceError is returned by Call and Stream when the server responds
// with ok=false. It wraps the server's error message and the action
// that failed.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// ServiceClient sends CBOR requests to the status daemon's socket.
// Each Call opens a new connection (matching the server's
// one-request-per-connection model), sends the request, reads the
// response, and closes the connection.
type ServiceClient struct {
	socketPath string
}

// NewServiceClient creates a client for the socket at socketPath. No
// connection is made until the first Call.
func NewServiceClient(socketPath string) *ServiceClient {
	return &ServiceClient{socketPath: socketPath}
}

// SocketPath returns the socket the client connects to.
func (c *ServiceClient) SocketPath() string {
	return c.socketPath
}

// Call sends a CBOR request to the service and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action" automatically. Pass nil for
// actions that take no additional parameters.
//
// On success (response ok=true), if result is non-nil and the
// response contains data, the data is CBOR-decoded into result.
//
// On failure (response ok=false), returns a *ServiceError containing
// the server's error message. Connection and encoding errors are
// returned as plain errors (not *ServiceError).
func (c *ServiceClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.dial(ctx, action, fields)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	// Half-close the write side so the server's read side sees EOF
	// cleanly. Stream requests must not do this: the server treats
	// EOF on a stream as the client hanging up.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q on %s: reading response: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{
			Action:  action,
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

// Stream opens a stream action. After the server acknowledges the
// request, the returned StreamReader yields CBOR values until the
// server ends the stream, ctx is cancelled, or Close is called.
func (c *ServiceClient) Stream(ctx context.Context, action string, fields map[string]any) (*StreamReader, error) {
	conn, err := c.dial(ctx, action, fields)
	if err != nil {
		return nil, fmt.Errorf("streaming %q on %s: %w", action, c.socketPath, err)
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	decoder := codec.NewDecoder(conn)
	var response Response
	if err := decoder.Decode(&response); err != nil {
		conn.Close()
		return nil, fmt.Errorf("streaming %q on %s: reading acknowledgment: %w", action, c.socketPath, err)
	}
	if !response.OK {
		conn.Close()
		return nil, &ServiceError{Action: action, Message: response.Error}
	}
	conn.SetReadDeadline(time.Time{})

	return &StreamReader{
		conn:    conn,
		decoder: decoder,
		stop:    context.AfterFunc(ctx, func() { conn.Close() }),
	}, nil
}

// dial connects and writes the request map: the caller's fields plus
// "action".
func (c *ServiceClient) dial(ctx context.Context, action string, fields map[string]any) (net.Conn, error) {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing request: %w", err)
	}
	return conn, nil
}

// StreamReader reads the values of an open stream.
type StreamReader struct {
	conn    net.Conn
	decoder *codec.Decoder
	stop    func() bool
}

// Next decodes the next stream value into v. It returns io.EOF when
// the server ends the stream, and a net.ErrClosed error after Close
// or context cancellation.
func (r *StreamReader) Next(v any) error {
	return r.decoder.Decode(v)
}

// Close ends the stream. The server sees the hang-up and releases the
// subscription behind it.
func (r *StreamReader) Close() error {
	r.stop()
	return r.conn.Close()
}
