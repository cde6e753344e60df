// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package status defines the data model shared by every component of
// the status service: subsystem identifiers, reports, the canonical
// snapshot, activity log entries, snapshot deltas, and the frames
// delivered to push subscribers.
//
// All types are serialized as JSON on the HTTP API and as CBOR on the
// unix socket and CBOR push streams. Only `json` struct tags are used;
// see lib/codec for the tagging convention.
//
// Reports and snapshots are immutable once constructed. A Snapshot
// handed out by the state store is shared by every reader, so callers
// that need to modify one must [Snapshot.Clone] it first.
package status
