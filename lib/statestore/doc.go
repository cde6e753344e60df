// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package statestore holds the single canonical status snapshot and
// the bounded activity log.
//
// Reads are lock-free: [Store.Read] loads an atomic pointer, so a
// reader never waits for a commit in progress and never sees a
// partially built snapshot. Commits are serialized by a mutex and
// checked against the snapshot they replace before being published.
// A commit that would break an ordering invariant is refused with
// [ErrInvariant] and the previous snapshot stays live.
//
// The store does not decide what goes into a snapshot. The aggregator
// is its only writer.
package statestore
