// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// statusd aggregates health reports from the stack's subsystems into a
// single versioned snapshot and distributes it to dashboards.
//
// Reports arrive over HTTP (POST /api/v1/reports) or the Unix socket
// ("submit" action) and pass through Signal Ingest to the aggregator,
// which is the only writer of the snapshot. Clients read the snapshot
// directly, poll for changes, or hold a push subscription over a
// WebSocket (/api/v1/ws) or the socket ("watch" stream action). A
// staleness monitor demotes subsystems that stop reporting and expires
// idle subscriptions. The built-in host probe reports the machine
// itself as the "host" subsystem.
//
// Configuration is one YAML or JSONC file (see lib/config), named by
// --config or STATUSD_CONFIG. A .env file is loaded first when present.
//
// statusd exits non-zero when a snapshot fails its own consistency
// checks, so a supervisor restarts it from an empty state instead of
// serving corrupt data.
package main
