// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// recordingTB captures Fatalf instead of stopping the test.
type recordingTB struct {
	failed  bool
	message string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
	// Fatalf must not return; unwind the helper the way
	// runtime.Goexit would.
	panic(r)
}

func capture(fn func(t TB)) (result *recordingTB) {
	result = &recordingTB{}
	defer func() {
		if recovered := recover(); recovered != nil && recovered != result {
			panic(recovered)
		}
	}()
	fn(result)
	return result
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second, "buffered value"); got != 7 {
		t.Errorf("got %d, want 7", got)
	}

	result := capture(func(tb TB) { RequireReceive(tb, make(chan int), 10*time.Millisecond, "nothing %d", 1) })
	if !result.failed || !strings.Contains(result.message, "nothing 1") {
		t.Errorf("timeout not reported: %+v", result)
	}

	closed := make(chan int)
	close(closed)
	result = capture(func(tb TB) { RequireReceive(tb, closed, time.Second) })
	if !result.failed || !strings.Contains(result.message, "closed") {
		t.Errorf("close not reported: %+v", result)
	}
}

func TestRequireNoReceive(t *testing.T) {
	RequireNoReceive(t, make(chan int), 10*time.Millisecond, "idle channel")

	ch := make(chan int, 1)
	ch <- 1
	result := capture(func(tb TB) { RequireNoReceive(tb, ch, time.Second, "busy") })
	if !result.failed {
		t.Error("value on channel not reported")
	}
}

func TestEventually(t *testing.T) {
	calls := 0
	Eventually(t, time.Second, func() bool {
		calls++
		return calls == 3
	}, "third call")
	if calls != 3 {
		t.Errorf("condition called %d times, want 3", calls)
	}

	result := capture(func(tb TB) { Eventually(tb, 20*time.Millisecond, func() bool { return false }, "never") })
	if !result.failed || !strings.Contains(result.message, "never") {
		t.Errorf("unmet condition not reported: %+v", result)
	}
}

func TestUniqueID(t *testing.T) {
	first := UniqueID("client")
	second := UniqueID("client")
	if first == second || !strings.HasPrefix(first, "client-") {
		t.Errorf("UniqueID returned %q then %q", first, second)
	}
}
