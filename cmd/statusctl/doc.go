// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Statusctl is the operator command line for statusd. It talks to the
// daemon's unix socket with the CBOR action protocol: submit reports,
// read the snapshot and activity log, manage poll subscriptions, and
// follow live frames with watch.
//
// The socket defaults to $RUNTIME_DIRECTORY/statusd.sock (falling back
// to /run/infinite-server26/statusd.sock) and can be overridden with
// --socket or STATUSD_SOCKET.
//
// statusctl check exits 0 for nominal posture, 1 for degraded, 2 for
// critical, and 3 while no reports have arrived, for use from cron
// jobs and supervisor health checks.
package main
