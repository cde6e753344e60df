// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package pushsink

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NaTo1000/infinite-server26/lib/codec"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// maxClientMessage caps what a subscriber may send. Clients only send
// control frames, so anything larger is a misbehaving peer.
const maxClientMessage = 4096

// closeGrace bounds the close handshake write.
const closeGrace = time.Second

// WebSocket delivers frames over an upgraded WebSocket connection.
type WebSocket struct {
	conn    *websocket.Conn
	options Options

	// writeMu serializes data frames. gorilla/websocket allows one
	// concurrent writer; the close message uses WriteControl, which
	// may run alongside it.
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocket wraps conn. The caller must run ReadLoop so control
// frames are processed and a client disconnect closes the sink.
func NewWebSocket(conn *websocket.Conn, options Options) *WebSocket {
	conn.SetReadLimit(maxClientMessage)
	return &WebSocket{
		conn:    conn,
		options: options.withDefaults(),
		done:    make(chan struct{}),
	}
}

// Deliver encodes frame and writes it as one message.
func (w *WebSocket) Deliver(ctx context.Context, frame status.Frame) error {
	select {
	case <-w.done:
		return net.ErrClosed
	default:
	}

	data, err := EncodeFrame(w.options.Format, w.options.Compression, frame)
	if err != nil {
		return err
	}
	messageType := websocket.BinaryMessage
	if w.options.Format == codec.FormatJSON && w.options.Compression == codec.CompressionNone {
		messageType = websocket.TextMessage
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline, hasDeadline := ctx.Deadline()
	w.conn.SetWriteDeadline(writeDeadline(deadline, hasDeadline, w.options.WriteTimeout))

	// A cancelled delivery aborts the blocked write by expiring the
	// deadline on the underlying connection, which is safe to touch
	// from another goroutine.
	stop := context.AfterFunc(ctx, func() {
		w.conn.UnderlyingConn().SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := w.conn.WriteMessage(messageType, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// ReadLoop reads from the connection until it fails, then closes the
// sink. Blocks; run it on the handler goroutine or its own.
func (w *WebSocket) ReadLoop() {
	defer w.Close()
	for {
		if _, _, err := w.conn.NextReader(); err != nil {
			return
		}
	}
}

// Done is closed once the sink is closed.
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}

// Close sends a normal-closure message and closes the connection.
// Safe to call more than once and concurrently with Deliver.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscription ended")
		w.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGrace))
		err = w.conn.Close()
		close(w.done)
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
