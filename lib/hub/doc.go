// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub tracks connected clients and delivers snapshots to them.
//
// Poll subscribers call [Hub.Poll] and receive the current snapshot
// only when its generation differs from the one they last received.
// Polls arriving faster than the configured minimum interval get
// NotModified without touching the state store.
//
// Push subscribers supply a [Sink]. Each has its own worker goroutine
// and a one-slot wakeup channel. [Hub.Notify], called by the
// aggregator after every commit, only wakes the dispatcher; the
// dispatcher wakes every worker without blocking; each worker reads
// the latest snapshot and sends the diff against whatever it last
// delivered (or the full snapshot, per the subscriber's mode). A slow
// sink therefore falls behind by coalescing commits into one larger
// diff. It never delays other subscribers and never holds a queue of
// undelivered frames.
//
// Delivery failures are retried with exponential backoff up to a
// bounded number of attempts, after which the subscription is dropped
// and its sink closed. Subscriptions without a successful delivery,
// heartbeat, or poll for the grace period are removed by
// [Hub.ExpireIdle], which the staleness monitor calls every cycle.
package hub
