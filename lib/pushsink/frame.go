// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package pushsink

import (
	"fmt"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/codec"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// DefaultWriteTimeout bounds a single frame write when neither the
// options nor the delivery context set a tighter deadline.
const DefaultWriteTimeout = 10 * time.Second

// Options select the wire encoding a subscriber negotiated.
type Options struct {
	Format       codec.Format
	Compression  codec.Compression
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Format == "" {
		o.Format = codec.FormatJSON
	}
	if o.Compression == "" {
		o.Compression = codec.CompressionNone
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

// EncodeFrame serializes frame in format and compresses the result.
func EncodeFrame(format codec.Format, compression codec.Compression, frame status.Frame) ([]byte, error) {
	data, err := format.Encode(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", frame.Type, err)
	}
	compressed, err := codec.Compress(compression, data)
	if err != nil {
		return nil, fmt.Errorf("compressing %s frame: %w", frame.Type, err)
	}
	return compressed, nil
}

// DecodeFrame reverses EncodeFrame.
func DecodeFrame(format codec.Format, compression codec.Compression, data []byte) (status.Frame, error) {
	var frame status.Frame
	plain, err := codec.Decompress(compression, data)
	if err != nil {
		return frame, fmt.Errorf("decompressing frame: %w", err)
	}
	if err := format.Decode(plain, &frame); err != nil {
		return frame, fmt.Errorf("decoding frame: %w", err)
	}
	return frame, nil
}

// writeDeadline is the earlier of now+timeout and the context deadline.
func writeDeadline(deadline time.Time, hasDeadline bool, timeout time.Duration) time.Time {
	limit := time.Now().Add(timeout)
	if hasDeadline && deadline.Before(limit) {
		return deadline
	}
	return limit
}
