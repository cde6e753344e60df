// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package pushsink

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/codec"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// Stream delivers frames as CBOR values on a raw connection. The
// options' Format is ignored: stream frames are always CBOR.
type Stream struct {
	conn        net.Conn
	encoder     *codec.Encoder
	compression codec.Compression
	timeout     time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewStream wraps conn. Closing the sink closes conn.
func NewStream(conn net.Conn, options Options) *Stream {
	options = options.withDefaults()
	return &Stream{
		conn:        conn,
		encoder:     codec.NewEncoder(conn),
		compression: options.Compression,
		timeout:     options.WriteTimeout,
		done:        make(chan struct{}),
	}
}

// Deliver writes frame as one CBOR value.
func (s *Stream) Deliver(ctx context.Context, frame status.Frame) error {
	select {
	case <-s.done:
		return net.ErrClosed
	default:
	}

	var value any = frame
	if s.compression != codec.CompressionNone {
		data, err := EncodeFrame(codec.FormatCBOR, s.compression, frame)
		if err != nil {
			return err
		}
		value = data
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline, hasDeadline := ctx.Deadline()
	s.conn.SetWriteDeadline(writeDeadline(deadline, hasDeadline, s.timeout))
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := s.encoder.Encode(value); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("writing %s frame: %w", frame.Type, err)
	}
	return nil
}

// Done is closed once the sink is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close closes the connection. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		close(s.done)
	})
	return err
}

// StreamDecoder reads frames written by a Stream.
type StreamDecoder struct {
	next        func(v any) error
	compression codec.Compression
}

// NewStreamDecoder decodes frames from values produced by next, which
// is typically a codec.Decoder's Decode or a service.StreamReader's
// Next. compression must match what the sink was created with.
func NewStreamDecoder(next func(v any) error, compression codec.Compression) *StreamDecoder {
	if compression == "" {
		compression = codec.CompressionNone
	}
	return &StreamDecoder{next: next, compression: compression}
}

// Next reads one frame. Errors from the underlying reader, io.EOF
// included, are returned unwrapped.
func (d *StreamDecoder) Next() (status.Frame, error) {
	var frame status.Frame
	if d.compression == codec.CompressionNone {
		err := d.next(&frame)
		return frame, err
	}
	var data []byte
	if err := d.next(&data); err != nil {
		return frame, err
	}
	return DecodeFrame(codec.FormatCBOR, d.compression, data)
}
