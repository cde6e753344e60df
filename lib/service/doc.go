// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the transport scaffolding the status daemon
// serves its APIs on:
//
//   - Socket server: a CBOR action protocol on a Unix socket. Each
//     connection carries one request. Plain actions get one response;
//     stream actions get an acknowledgment followed by a sequence of
//     CBOR values until either side hangs up.
//   - HTTP server: listener lifecycle and graceful shutdown around a
//     caller-provided http.Handler.
//   - Service client: the matching socket client, used by statusctl.
//
// The daemon composes these in its own main() function. The package
// provides building blocks, not a runtime.
//
// # Authentication
//
// There is no caller authentication. Filesystem permissions on the
// socket and the network placement of the HTTP listener decide who can
// reach the daemon.
package service
