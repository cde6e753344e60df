// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small connection and HTTP helpers shared by
// the daemon and its clients.
package netutil
