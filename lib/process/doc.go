// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for statusd and
// statusctl: reporting a fatal error to stderr before or after the
// structured logger exists, and exiting with a code a supervisor can
// act on.
package process
