// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"fmt"

	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// activityRing is a fixed-capacity FIFO of activity entries. When
// full, each append overwrites the oldest entry. Not safe for
// concurrent use; the Store's mutex guards it.
type activityRing struct {
	entries []status.ActivityEntry
	// next is the slot the next append writes.
	next    int
	count   int
	evicted uint64
}

func newActivityRing(capacity int) *activityRing {
	if capacity <= 0 {
		panic(fmt.Sprintf("statestore: activity capacity must be positive, got %d", capacity))
	}
	return &activityRing{entries: make([]status.ActivityEntry, capacity)}
}

func (r *activityRing) append(entry status.ActivityEntry) {
	if r.count == len(r.entries) {
		r.evicted++
	} else {
		r.count++
	}
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
}

// newest returns up to limit entries, most recent first. A limit of
// zero or less returns every retained entry.
func (r *activityRing) newest(limit int) []status.ActivityEntry {
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	result := make([]status.ActivityEntry, limit)
	index := r.next
	for i := range limit {
		index = (index - 1 + len(r.entries)) % len(r.entries)
		result[i] = r.entries[index]
	}
	return result
}
