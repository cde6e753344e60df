// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/codec"
	"github.com/NaTo1000/infinite-server26/lib/testutil"
)

// sendRequest connects to a Unix socket, sends a CBOR request, and
// returns the decoded response envelope.
func sendRequest(t *testing.T, socketPath string, request any) Response {
	t.Helper()

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(testutil.SocketDir(t), "test.sock")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func waitForSocket(t *testing.T, socketPath string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s did not appear", socketPath)
}

// startServer runs server until the test ends.
func startServer(t *testing.T, server *SocketServer, socketPath string) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFunc := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		serveDone <- server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancelFunc()
		<-stopped
	})
	waitForSocket(t, socketPath)
	return cancelFunc, serveDone
}

func TestSocketServerAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Message string `cbor:"message"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]string{"echo": request.Message}, nil
	})
	startServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"action": "echo", "message": "posture"})
	if !response.OK {
		t.Fatalf("expected ok=true, got error %q", response.Error)
	}
	var data map[string]string
	if err := codec.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if data["echo"] != "posture" {
		t.Errorf("echo = %q, want posture", data["echo"])
	}
}

func TestSocketServerNilResult(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("noop", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
	startServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"action": "noop"})
	if !response.OK {
		t.Fatalf("expected ok=true, got error %q", response.Error)
	}
	if len(response.Data) != 0 {
		t.Errorf("expected no data, got %d bytes", len(response.Data))
	}
}

func TestSocketServerErrors(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, errors.New("subsystem not found")
	})
	startServer(t, server, socketPath)

	tests := []struct {
		name    string
		request any
		want    string
	}{
		{name: "handler_error", request: map[string]any{"action": "fail"}, want: "subsystem not found"},
		{name: "unknown_action", request: map[string]any{"action": "teleport"}, want: `unknown action "teleport"`},
		{name: "missing_action", request: map[string]any{"message": "hi"}, want: "missing required field: action"},
		{name: "not_a_map", request: "just a string", want: "invalid request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := sendRequest(t, socketPath, tt.request)
			if response.OK {
				t.Fatal("expected ok=false")
			}
			if !strings.Contains(response.Error, tt.want) {
				t.Errorf("error = %q, want it to contain %q", response.Error, tt.want)
			}
		})
	}
}

func TestSocketServerDuplicateHandlerPanics(t *testing.T) {
	server := NewSocketServer("/tmp/unused.sock", testLogger())
	server.Handle("watch", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("HandleStream with an action already registered by Handle did not panic")
		}
	}()
	server.HandleStream("watch", func(ctx context.Context, raw []byte) (StreamBody, error) { return nil, nil })
}

func TestSocketServerStream(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.HandleStream("count", func(ctx context.Context, raw []byte) (StreamBody, error) {
		return func(ctx context.Context, conn net.Conn) error {
			encoder := codec.NewEncoder(conn)
			for i := range 3 {
				if err := encoder.Encode(map[string]any{"sequence": i}); err != nil {
					return err
				}
			}
			return nil
		}, nil
	})
	startServer(t, server, socketPath)

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer conn.Close()
	if err := codec.NewEncoder(conn).Encode(map[string]any{"action": "count"}); err != nil {
		t.Fatalf("writing request: %v", err)
	}

	decoder := codec.NewDecoder(conn)
	var ack Response
	if err := decoder.Decode(&ack); err != nil {
		t.Fatalf("reading acknowledgment: %v", err)
	}
	if !ack.OK {
		t.Fatalf("acknowledgment not ok: %q", ack.Error)
	}
	for i := range 3 {
		var frame map[string]any
		if err := decoder.Decode(&frame); err != nil {
			t.Fatalf("reading frame %d: %v", i, err)
		}
		if frame["sequence"] != uint64(i) {
			t.Errorf("frame %d: sequence = %v", i, frame["sequence"])
		}
	}
	var extra map[string]any
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Errorf("after the body returned, Decode = %v, want io.EOF", err)
	}
}

func TestSocketServerStreamSetupError(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.HandleStream("watch", func(ctx context.Context, raw []byte) (StreamBody, error) {
		return nil, errors.New("client_id is required")
	})
	startServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"action": "watch"})
	if response.OK {
		t.Fatal("expected ok=false")
	}
	if response.Error != "client_id is required" {
		t.Errorf("error = %q", response.Error)
	}
}

func TestSocketServerStreamClientHangup(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	bodyStarted := make(chan struct{})
	bodyCancelled := make(chan struct{})
	server.HandleStream("watch", func(ctx context.Context, raw []byte) (StreamBody, error) {
		return func(ctx context.Context, conn net.Conn) error {
			close(bodyStarted)
			<-ctx.Done()
			close(bodyCancelled)
			return ctx.Err()
		}, nil
	})
	startServer(t, server, socketPath)

	client := NewServiceClient(socketPath)
	stream, err := client.Stream(context.Background(), "watch", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	testutil.RequireClosed(t, bodyStarted, 5*time.Second, "stream body did not start")

	stream.Close()
	testutil.RequireClosed(t, bodyCancelled, 5*time.Second, "stream body context not cancelled after client hangup")
}

func TestSocketServerStreamGracefulShutdown(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	bodyStarted := make(chan struct{})
	server.HandleStream("watch", func(ctx context.Context, raw []byte) (StreamBody, error) {
		return func(ctx context.Context, conn net.Conn) error {
			close(bodyStarted)
			<-ctx.Done()
			return codec.NewEncoder(conn).Encode(map[string]any{"type": "shutdown"})
		}, nil
	})
	cancel, serveDone := startServer(t, server, socketPath)

	stream, err := NewServiceClient(socketPath).Stream(context.Background(), "watch", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	testutil.RequireClosed(t, bodyStarted, 5*time.Second, "stream body did not start")
	cancel()

	var frame map[string]any
	if err := stream.Next(&frame); err != nil {
		t.Fatalf("reading shutdown frame: %v", err)
	}
	if frame["type"] != "shutdown" {
		t.Errorf("type = %v, want shutdown", frame["type"])
	}
	if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return after cancellation"); err != nil {
		t.Errorf("Serve returned error: %v", err)
	}
}

func TestSocketServerWaitsForActiveHandlers(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	handlerStarted := make(chan struct{})
	release := make(chan struct{})
	server.Handle("slow", func(ctx context.Context, raw []byte) (any, error) {
		close(handlerStarted)
		<-release
		return nil, nil
	})
	cancel, serveDone := startServer(t, server, socketPath)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sendRequest(t, socketPath, map[string]any{"action": "slow"})
	}()

	testutil.RequireClosed(t, handlerStarted, 5*time.Second, "handler did not start")
	cancel()
	testutil.RequireNoReceive(t, serveDone, 50*time.Millisecond, "Serve returned while a handler was active")

	close(release)
	wg.Wait()
	testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return after the handler finished")
}

func TestSocketServerRemovesStaleSocket(t *testing.T) {
	socketPath := testSocketPath(t)
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatalf("creating stale file: %v", err)
	}

	server := NewSocketServer(socketPath, testLogger())
	server.Handle("noop", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })
	cancel, serveDone := startServer(t, server, socketPath)

	if response := sendRequest(t, socketPath, map[string]any{"action": "noop"}); !response.OK {
		t.Fatalf("noop failed: %q", response.Error)
	}

	cancel()
	testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return")
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file should be removed after Serve returns, stat error = %v", err)
	}
}
