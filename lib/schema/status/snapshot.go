// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// Snapshot is the canonical aggregate view of every subsystem's latest
// report. Exactly one live Snapshot exists per process, held by the
// state store; every accepted report (real or synthetic) produces a
// new Snapshot with Generation one higher than its predecessor.
type Snapshot struct {
	// Generation is the snapshot's version. Zero is the empty
	// snapshot that exists before the first report. Strictly
	// increasing, never reused.
	Generation uint64 `json:"generation"`

	// Posture is the overall health derived from Subsystems.
	Posture Posture `json:"posture"`

	// UpdatedAt is the service clock time of the commit that produced
	// this snapshot.
	UpdatedAt time.Time `json:"updated_at"`

	// Subsystems maps each subsystem that has reported at least once
	// to its latest accepted report. Subsystems that have never
	// reported are absent.
	Subsystems map[SubsystemID]Report `json:"subsystems"`

	// Digest is the BLAKE3 digest of the snapshot's other fields (see
	// [ComputeDigest]). Used as the HTTP ETag and to verify that a
	// client applying a Delta arrived at the same state.
	Digest Digest `json:"digest"`
}

// Empty returns the generation-zero snapshot, sealed.
func Empty() *Snapshot {
	snapshot := &Snapshot{
		Posture:    PostureUnknown,
		Subsystems: map[SubsystemID]Report{},
	}
	snapshot.Seal()
	return snapshot
}

// Clone returns a copy of s whose Subsystems map can be modified
// without affecting s. Reports are immutable and shared.
func (s *Snapshot) Clone() *Snapshot {
	clone := *s
	clone.Subsystems = maps.Clone(s.Subsystems)
	if clone.Subsystems == nil {
		clone.Subsystems = map[SubsystemID]Report{}
	}
	return &clone
}

// Seal computes and stores the snapshot's digest. Call after the last
// modification and before publishing.
func (s *Snapshot) Seal() {
	s.Digest = ComputeDigest(s)
}

// Report returns the latest report for id, if the subsystem has
// reported.
func (s *Snapshot) Report(id SubsystemID) (Report, bool) {
	report, ok := s.Subsystems[id]
	return report, ok
}

// SortedSubsystems returns the IDs in s.Subsystems in display order.
func (s *Snapshot) SortedSubsystems() []SubsystemID {
	ids := make([]SubsystemID, 0, len(s.Subsystems))
	for _, id := range allSubsystems {
		if _, ok := s.Subsystems[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// StatusCounts tallies subsystems by their latest status.
func (s *Snapshot) StatusCounts() map[Status]int {
	counts := make(map[Status]int, 3)
	for _, report := range s.Subsystems {
		counts[report.Status]++
	}
	return counts
}

// Validate checks the snapshot's internal consistency: known enum
// values, map keys that agree with their reports, finite metrics, and
// a digest that matches the content. It does not check relationships
// with other snapshots (generation ordering, timestamp ordering),
// which is the state store's job.
func (s *Snapshot) Validate() error {
	var problems []error

	if !s.Posture.IsKnown() {
		problems = append(problems, fmt.Errorf("posture %q is not a known value", s.Posture))
	}
	if s.Generation == 0 && len(s.Subsystems) > 0 {
		problems = append(problems, fmt.Errorf("generation 0 snapshot holds %d reports", len(s.Subsystems)))
	}

	for _, id := range slices.Sorted(maps.Keys(s.Subsystems)) {
		report := s.Subsystems[id]
		if !id.IsKnown() {
			problems = append(problems, fmt.Errorf("subsystem %q is not a known value", id))
		}
		if report.Subsystem != id {
			problems = append(problems, fmt.Errorf("subsystem %q holds a report for %q", id, report.Subsystem))
		}
		if !report.Status.IsKnown() {
			problems = append(problems, fmt.Errorf("subsystem %q has status %q", id, report.Status))
		}
		for name, value := range report.Metrics {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				problems = append(problems, fmt.Errorf("subsystem %q metric %q is not finite", id, name))
			}
		}
	}

	if len(problems) == 0 {
		if expected := ComputeDigest(s); expected != s.Digest {
			problems = append(problems, fmt.Errorf("digest %s does not match content digest %s", s.Digest, expected))
		}
	}

	return errors.Join(problems...)
}
