// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the status daemon's configuration.
//
// Configuration comes from a single file named by the STATUSD_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no automatic discovery. Running without a
// file uses [Default], which is a complete working configuration.
//
// Files are YAML. Files ending in .json or .jsonc are JSON with
// comments and trailing commas allowed; comments are stripped before
// parsing, and the result is read by the same YAML decoder (JSON is a
// subset of YAML), so both formats accept identical keys. Durations
// are Go duration strings ("10s", "2m").
//
// The file may contain development, staging, and production sections
// that override logging settings when [Config].Environment matches.
// Production without an explicit section logs JSON at info level.
//
// ${VAR} and ${VAR:-default} are expanded in the listen addresses
// after loading. No other environment variables override values.
package config
