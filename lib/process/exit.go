// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Exit codes used by the binaries.
const (
	// ExitFailure is the generic failure code.
	ExitFailure = 1

	// ExitUsage reports invalid flags or configuration.
	ExitUsage = 2

	// ExitInvariant reports that the daemon stopped because a state
	// invariant was violated. A supervisor should restart it.
	ExitInvariant = 3
)

// Fatal writes "error: err" to stderr and exits with ExitFailure. Use
// it in main() for errors from run() where the structured logger may
// not be initialized.
func Fatal(err error) {
	Exit(ExitFailure, err)
}

// Exit writes "error: err" to stderr and exits with code.
func Exit(code int, err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}
