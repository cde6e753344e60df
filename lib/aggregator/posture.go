// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package aggregator

import "github.com/NaTo1000/infinite-server26/lib/schema/status"

// ComputePosture derives the overall posture from every subsystem's
// latest report. criticalPath names the subsystems whose loss is
// critical.
func ComputePosture(subsystems map[status.SubsystemID]status.Report, criticalPath map[status.SubsystemID]bool) status.Posture {
	if len(subsystems) == 0 {
		return status.PostureUnknown
	}
	posture := status.PostureNominal
	for id, report := range subsystems {
		switch report.Status {
		case status.StatusOffline:
			if criticalPath[id] {
				return status.PostureCritical
			}
			posture = posture.Worse(status.PostureDegraded)
		case status.StatusDegraded:
			posture = posture.Worse(status.PostureDegraded)
		}
	}
	return posture
}
