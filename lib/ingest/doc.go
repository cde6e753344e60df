// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest validates subsystem reports and forwards accepted
// ones to the aggregator.
//
// Ingest stores nothing itself. A rejected report is logged, counted,
// and returned to the caller as a [*RejectError]; it never reaches the
// aggregator and never affects the snapshot. Rejection categories are
// sentinel errors usable with errors.Is.
package ingest
