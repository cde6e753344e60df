// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = savedCommit, savedDirty })

	GitCommit = "abc1234"
	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("Info() = %q, want it to contain abc1234-dirty", got)
	}
	if got := Full(); !strings.Contains(got, runtime.Version()) {
		t.Errorf("Full() = %q, want the Go version", got)
	}

	build := Current()
	if build.Commit != "abc1234" || !build.Dirty || build.Go != runtime.Version() {
		t.Errorf("Current() = %+v", build)
	}
}
