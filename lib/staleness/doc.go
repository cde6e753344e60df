// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package staleness demotes subsystems that stop reporting.
//
// On a fixed period the [Monitor] compares each subsystem's last
// report against its expected interval. A subsystem silent for longer
// is demoted through the aggregator, exactly like a real report: the
// demotion gets the next generation, an activity log entry, and a
// push notification. Silence is measured from the report's
// ReceivedAt, the service clock time the aggregator stamped on it.
//
// The same cycle garbage-collects idle hub subscriptions and, every
// summary interval, logs one line describing overall posture.
package staleness
