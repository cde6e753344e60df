// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// ErrInvariant is returned by [Store.Commit] when the proposed
// snapshot is inconsistent with itself or with the snapshot it would
// replace. The process cannot trust its state after this error.
var ErrInvariant = errors.New("snapshot invariant violated")

// Store holds the live snapshot and the activity log.
type Store struct {
	current atomic.Pointer[status.Snapshot]

	// mu serializes commits and guards the activity ring.
	mu           sync.Mutex
	activity     *activityRing
	nextSequence uint64
}

// New creates a Store holding the empty generation-zero snapshot and
// an activity log retaining at most activityCapacity entries.
func New(activityCapacity int) *Store {
	store := &Store{
		activity:     newActivityRing(activityCapacity),
		nextSequence: 1,
	}
	store.current.Store(status.Empty())
	return store
}

// Read returns the latest committed snapshot. It never blocks. The
// returned snapshot is shared and must not be modified.
func (s *Store) Read() *status.Snapshot {
	return s.current.Load()
}

// Generation returns the generation of the latest committed snapshot.
func (s *Store) Generation() uint64 {
	return s.current.Load().Generation
}

// Commit replaces the live snapshot with next and appends entries to
// the activity log. next must be sealed, must carry the generation
// one past the current one, and must not move any subsystem's report
// timestamp backwards or drop a subsystem. Entries receive sequence
// numbers and next's generation; their other fields are kept.
//
// On error nothing is published and the activity log is unchanged.
// The error wraps ErrInvariant.
func (s *Store) Commit(next *status.Snapshot, entries []status.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.current.Load()
	if err := checkSuccessor(previous, next); err != nil {
		return fmt.Errorf("%w: generation %d: %w", ErrInvariant, next.Generation, err)
	}

	s.current.Store(next)
	for _, entry := range entries {
		entry.Sequence = s.nextSequence
		entry.Generation = next.Generation
		s.nextSequence++
		s.activity.append(entry)
	}
	return nil
}

// checkSuccessor verifies that next may replace previous.
func checkSuccessor(previous, next *status.Snapshot) error {
	if next.Generation != previous.Generation+1 {
		return fmt.Errorf("generation must be %d", previous.Generation+1)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	for id, old := range previous.Subsystems {
		report, ok := next.Subsystems[id]
		if !ok {
			return fmt.Errorf("subsystem %q disappeared", id)
		}
		if report.Timestamp < old.Timestamp {
			return fmt.Errorf("subsystem %q timestamp moved from %d to %d", id, old.Timestamp, report.Timestamp)
		}
	}
	return nil
}

// ReadActivityLog returns up to limit activity entries, most recent
// first. A limit of zero or less returns every retained entry. The
// result is a copy: later commits do not change it, and entries
// evicted before the call are gone for good.
func (s *Store) ReadActivityLog(limit int) []status.ActivityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity.newest(limit)
}

// ActivityStats reports the number of retained entries, the capacity,
// and the total number of entries evicted since creation.
func (s *Store) ActivityStats() (retained, capacity int, evicted uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity.count, len(s.activity.entries), s.activity.evicted
}
