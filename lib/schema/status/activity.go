// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package status

import "time"

// Severity grades an activity log entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IsKnown reports whether s is one of the defined Severity values.
func (s Severity) IsKnown() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// SeverityForStatus maps the status a subsystem moved to onto the
// severity of the entry recording the move.
func SeverityForStatus(s Status) Severity {
	switch s {
	case StatusOffline:
		return SeverityCritical
	case StatusDegraded:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// ActivityEntry is one notable event: a status or mode change, a
// metric threshold crossing, or a posture change.
type ActivityEntry struct {
	// Sequence numbers entries in append order, starting at 1.
	// Assigned by the state store.
	Sequence uint64 `json:"sequence"`

	// Timestamp is the service clock time of the event.
	Timestamp time.Time `json:"timestamp"`

	// Generation is the snapshot generation whose commit produced the
	// entry.
	Generation uint64 `json:"generation"`

	// Subsystem is the subsystem concerned, or empty for entries about
	// the service as a whole (posture changes).
	Subsystem SubsystemID `json:"subsystem,omitempty"`

	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}
