// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package pushsink implements the transports push subscribers are
// served over. Both types satisfy hub.Sink.
//
// [WebSocket] writes one frame per WebSocket message. JSON frames
// without compression go out as text messages so a browser can
// JSON.parse them directly; everything else is a binary message.
//
// [Stream] writes frames as a sequence of CBOR values on a raw
// connection, used by the daemon's socket "watch" action. With
// compression, each value is a CBOR byte string holding the compressed
// CBOR frame.
//
// Both sinks expose Done, closed when the sink is closed by either
// side, so the transport handler that owns the connection knows when
// the session is over.
package pushsink
