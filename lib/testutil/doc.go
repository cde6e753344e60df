// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireClosed], and [RequireNoReceive] wrap the
// select-with-timeout pattern so tests do not need their own time.After
// calls. [Eventually] polls a condition for state that is not signalled
// on a channel, such as a subscription disappearing after a hangup.
//
// [SocketDir] returns a short temporary directory for unix sockets,
// whose paths are limited to 108 bytes.
//
// [UniqueID] generates distinct identifiers for client IDs and the
// like.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
