// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package status

import "fmt"

// SubsystemID identifies one monitored component. The set is closed:
// adding a subsystem means adding a constant here and redeploying.
type SubsystemID string

const (
	// Orchestrator is the AI worker orchestrator.
	Orchestrator SubsystemID = "orchestrator"

	// ThreatHuntress is the threat scanning sensor.
	ThreatHuntress SubsystemID = "threat-huntress"

	// MeshShield is the network defense layer.
	MeshShield SubsystemID = "mesh-shield"

	// Ledger is the multi-chain ledger and encrypted vault.
	Ledger SubsystemID = "ledger"

	// ContainerRuntime is the container runtime and its inventory.
	ContainerRuntime SubsystemID = "container-runtime"

	// Host is the machine the service runs on. Reported by the
	// built-in host probe rather than an external adapter.
	Host SubsystemID = "host"
)

// allSubsystems lists every SubsystemID in display order.
var allSubsystems = []SubsystemID{
	Orchestrator,
	ThreatHuntress,
	MeshShield,
	Ledger,
	ContainerRuntime,
	Host,
}

// AllSubsystems returns every known SubsystemID in display order. The
// returned slice is a copy.
func AllSubsystems() []SubsystemID {
	return append([]SubsystemID(nil), allSubsystems...)
}

// IsKnown reports whether id is one of the defined SubsystemID values.
func (id SubsystemID) IsKnown() bool {
	switch id {
	case Orchestrator, ThreatHuntress, MeshShield, Ledger, ContainerRuntime, Host:
		return true
	}
	return false
}

// ParseSubsystemID converts a name to a SubsystemID, rejecting names
// outside the known set.
func ParseSubsystemID(name string) (SubsystemID, error) {
	id := SubsystemID(name)
	if !id.IsKnown() {
		return "", fmt.Errorf("unknown subsystem %q", name)
	}
	return id, nil
}

// Status is the health a subsystem reports for itself.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// IsKnown reports whether s is one of the defined Status values.
func (s Status) IsKnown() bool {
	switch s {
	case StatusOnline, StatusDegraded, StatusOffline:
		return true
	}
	return false
}

// Label returns the capitalized form used in activity log text.
func (s Status) Label() string {
	switch s {
	case StatusOnline:
		return "Online"
	case StatusDegraded:
		return "Degraded"
	case StatusOffline:
		return "Offline"
	case "":
		return "Unknown"
	default:
		return string(s)
	}
}
