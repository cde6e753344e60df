// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package status

// Posture is the overall health derived from every subsystem's latest
// status. Worst wins: Critical over Degraded over Nominal.
type Posture string

const (
	// PostureUnknown is the posture of a snapshot that holds no
	// reports yet (the state after process start).
	PostureUnknown Posture = "unknown"

	// PostureNominal means every reporting subsystem is online.
	PostureNominal Posture = "nominal"

	// PostureDegraded means at least one subsystem is degraded, or a
	// subsystem that is not on the critical path is offline.
	PostureDegraded Posture = "degraded"

	// PostureCritical means at least one critical-path subsystem is
	// offline.
	PostureCritical Posture = "critical"
)

// IsKnown reports whether p is one of the defined Posture values.
func (p Posture) IsKnown() bool {
	switch p {
	case PostureUnknown, PostureNominal, PostureDegraded, PostureCritical:
		return true
	}
	return false
}

// Rank orders postures by severity. Higher is worse.
func (p Posture) Rank() int {
	switch p {
	case PostureNominal:
		return 1
	case PostureDegraded:
		return 2
	case PostureCritical:
		return 3
	default:
		return 0
	}
}

// Worse returns whichever of p and other ranks higher.
func (p Posture) Worse(other Posture) Posture {
	if other.Rank() > p.Rank() {
		return other
	}
	return p
}

// Label returns the dashboard badge text for the posture.
func (p Posture) Label() string {
	switch p {
	case PostureNominal:
		return "FORTRESS MODE ACTIVE"
	case PostureDegraded:
		return "DEFENSES DEGRADED"
	case PostureCritical:
		return "CRITICAL: FORTRESS BREACHED"
	default:
		return "AWAITING REPORTS"
	}
}
