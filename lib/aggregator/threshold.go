// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"fmt"
	"strconv"

	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// Threshold is a metric limit whose crossing is recorded in the
// activity log.
type Threshold struct {
	Subsystem status.SubsystemID
	Metric    string
	Limit     float64

	// Below inverts the comparison: the threshold is breached when the
	// metric falls under Limit instead of rising over it.
	Below bool
}

func (t Threshold) breached(value float64) bool {
	if t.Below {
		return value < t.Limit
	}
	return value > t.Limit
}

func (t Threshold) direction() string {
	if t.Below {
		return "below"
	}
	return "above"
}

// crossing returns the activity entry for a change in the threshold's
// state between previous and next, if there is one. A metric seen for
// the first time already in breach counts as a crossing. A metric
// missing from next yields nothing.
func (t Threshold) crossing(previous *status.Report, next status.Report) (status.ActivityEntry, bool) {
	value, ok := next.Metrics[t.Metric]
	if !ok {
		return status.ActivityEntry{}, false
	}
	wasBreached := false
	if previous != nil {
		if old, ok := previous.Metrics[t.Metric]; ok {
			wasBreached = t.breached(old)
		}
	}
	nowBreached := t.breached(value)
	if wasBreached == nowBreached {
		return status.ActivityEntry{}, false
	}

	limit := strconv.FormatFloat(t.Limit, 'g', -1, 64)
	reading := strconv.FormatFloat(value, 'g', -1, 64)
	if nowBreached {
		return status.ActivityEntry{
			Subsystem: t.Subsystem,
			Severity:  status.SeverityWarning,
			Text:      fmt.Sprintf("%s: %s %s %s (%s)", t.Subsystem, t.Metric, t.direction(), limit, reading),
		}, true
	}
	return status.ActivityEntry{
		Subsystem: t.Subsystem,
		Severity:  status.SeverityInfo,
		Text:      fmt.Sprintf("%s: %s back within %s (%s)", t.Subsystem, t.Metric, limit, reading),
	}, true
}
