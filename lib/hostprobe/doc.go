// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostprobe reports the machine the daemon runs on as the
// "host" subsystem. It samples CPU usage, memory usage, and uptime
// with gopsutil and submits the result through Signal Ingest like any
// external adapter, so host reports are validated, ordered, and subject
// to staleness the same way.
package hostprobe
