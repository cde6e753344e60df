// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the service's serialization configuration.
//
// CBOR (RFC 8949, Core Deterministic Encoding) is used for the unix
// socket protocol, CBOR push frames, and as the canonical input to the
// snapshot digest: the same snapshot always yields the same bytes, so
// the same digest. JSON is used for the HTTP API and for WebSocket
// clients that ask for it.
//
// Types carry `json` tags only. fxamacker/cbor falls back to json tags
// when cbor tags are absent, so one tag set names fields in both
// formats.
//
// Push clients may also negotiate frame compression (zstd or lz4);
// see [Compress].
package codec
