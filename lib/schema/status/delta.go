// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ErrDeltaBase is returned by [Delta.Apply] when the snapshot it is
// applied to is not the delta's base generation. A client seeing this
// has missed a frame and should request a full snapshot.
var ErrDeltaBase = errors.New("delta base generation does not match snapshot")

// ErrDigestMismatch is returned by [Delta.Apply] when the reconstructed
// snapshot does not hash to the delta's target digest.
var ErrDigestMismatch = errors.New("reconstructed snapshot digest does not match delta")

// Delta carries only the subsystem entries that changed between two
// snapshots, plus the target snapshot's scalar fields.
type Delta struct {
	// BaseGeneration is the generation the delta applies to.
	BaseGeneration uint64 `json:"base_generation"`

	// Generation is the generation the delta produces.
	Generation uint64 `json:"generation"`

	Posture   Posture   `json:"posture"`
	UpdatedAt time.Time `json:"updated_at"`

	// Changed holds the target's report for every subsystem that is
	// new or different relative to the base.
	Changed map[SubsystemID]Report `json:"changed,omitempty"`

	// Removed lists subsystems present in the base but absent from
	// the target.
	Removed []SubsystemID `json:"removed,omitempty"`

	// Digest is the target snapshot's digest.
	Digest Digest `json:"digest"`
}

// Diff computes the delta that turns base into target. Reports for one
// subsystem are distinguished by Timestamp, which is unique per
// accepted report.
func Diff(base, target *Snapshot) Delta {
	delta := Delta{
		BaseGeneration: base.Generation,
		Generation:     target.Generation,
		Posture:        target.Posture,
		UpdatedAt:      target.UpdatedAt,
		Digest:         target.Digest,
	}
	for id, report := range target.Subsystems {
		previous, ok := base.Subsystems[id]
		if ok && previous.Timestamp == report.Timestamp && previous.Synthetic == report.Synthetic {
			continue
		}
		if delta.Changed == nil {
			delta.Changed = make(map[SubsystemID]Report)
		}
		delta.Changed[id] = report
	}
	for id := range base.Subsystems {
		if _, ok := target.Subsystems[id]; !ok {
			delta.Removed = append(delta.Removed, id)
		}
	}
	slices.Sort(delta.Removed)
	return delta
}

// ChangedSubsystems returns the IDs in d.Changed in sorted order.
func (d Delta) ChangedSubsystems() []SubsystemID {
	return slices.Sorted(maps.Keys(d.Changed))
}

// Apply reconstructs the target snapshot from base. The result is
// verified against the delta's digest.
func (d Delta) Apply(base *Snapshot) (*Snapshot, error) {
	if base.Generation != d.BaseGeneration {
		return nil, fmt.Errorf("%w: snapshot is generation %d, delta expects %d",
			ErrDeltaBase, base.Generation, d.BaseGeneration)
	}
	next := base.Clone()
	for id, report := range d.Changed {
		next.Subsystems[id] = report
	}
	for _, id := range d.Removed {
		delete(next.Subsystems, id)
	}
	next.Generation = d.Generation
	next.Posture = d.Posture
	next.UpdatedAt = d.UpdatedAt
	next.Seal()
	if next.Digest != d.Digest {
		return nil, fmt.Errorf("%w: generation %d", ErrDigestMismatch, d.Generation)
	}
	return next, nil
}
