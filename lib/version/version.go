// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X" by the release build.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
)

// Build describes the running binary. statusd reports it from the
// status action so statusctl can print both sides of a connection.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Dirty     bool   `json:"dirty,omitempty"`
	BuildTime string `json:"build_time"`
	Go        string `json:"go"`
}

// Current returns the build information of the running binary.
func Current() Build {
	return Build{
		Version:   Version,
		Commit:    GitCommit,
		Dirty:     GitDirty == "true",
		BuildTime: BuildTime,
		Go:        runtime.Version(),
	}
}

// String renders b on one line, e.g. "0.1.0 (3f2a9c1-dirty, 2026-03-01T09:00:00Z)".
func (b Build) String() string {
	commit := b.Commit
	if b.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", b.Version, commit, b.BuildTime)
}

// Info is Current().String(), used for log lines.
func Info() string {
	return Current().String()
}

// Full adds the toolchain and platform to [Info] for --version output.
func Full() string {
	b := Current()
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s", b, b.Go, runtime.GOOS, runtime.GOARCH)
}
