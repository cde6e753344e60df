// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregator is the single writer of the status snapshot.
//
// Every accepted report, real or synthetic, goes through
// [Aggregator.Apply] or [Aggregator.Demote]. Both hold one mutex for
// the whole read-modify-commit sequence, so generation increments and
// activity log appends are strictly ordered no matter how many
// adapters submit concurrently. After each commit the configured
// [Notifier] is told the new generation; it must not block.
//
// Posture is recomputed over every subsystem on every commit, worst
// status wins:
//
//   - critical if any critical-path subsystem is offline
//   - degraded if any subsystem is degraded, or a subsystem off the
//     critical path is offline
//   - nominal otherwise, or unknown before the first report
package aggregator
