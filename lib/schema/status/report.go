// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"maps"
	"math"
	"time"
)

// ModeUnresponsive is the mode label carried by demotion reports the
// staleness monitor synthesizes for a subsystem that stopped
// reporting.
const ModeUnresponsive = "UNRESPONSIVE"

// Report is one update from a subsystem.
type Report struct {
	// Subsystem identifies the reporting component.
	Subsystem SubsystemID `json:"subsystem"`

	// Timestamp is the reporter's monotonic sequence value. It is
	// used only for ordering: each accepted report for a subsystem
	// must carry a strictly greater Timestamp than the last. It is
	// not wall-clock time and is never compared across subsystems.
	Timestamp int64 `json:"timestamp"`

	// Status is the subsystem's self-assessed health.
	Status Status `json:"status"`

	// Mode is a free-form operating mode label ("ACTIVE", "HUNTING",
	// "UNRESPONSIVE").
	Mode string `json:"mode"`

	// Metrics holds named numeric readings. Values are always finite
	// in an accepted report.
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// Message is optional human-readable detail.
	Message string `json:"message,omitempty"`

	// ReceivedAt is the service clock time at which the report was
	// accepted. Set by the aggregator, not by the reporter; staleness
	// is measured against it.
	ReceivedAt time.Time `json:"received_at"`

	// Synthetic marks reports produced by the staleness monitor
	// rather than by the subsystem itself.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Unresponsive reports whether r is a staleness demotion.
func (r Report) Unresponsive() bool {
	return r.Synthetic && r.Mode == ModeUnresponsive
}

// Clone returns a copy of r that shares no mutable state with it.
func (r Report) Clone() Report {
	r.Metrics = maps.Clone(r.Metrics)
	return r
}

// MaxTimestamp is the largest timestamp a report may carry. The value
// above it is reserved for the demotion that may follow.
const MaxTimestamp = math.MaxInt64 - 1

// Admits reports whether next may replace r as its subsystem's latest
// report: next must carry a strictly greater timestamp. Demotions
// count, so after a demotion at L+1 the reporter resumes at L+2.
func (r Report) Admits(next Report) bool {
	return next.Timestamp > r.Timestamp
}
