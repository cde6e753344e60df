// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package staleness

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/aggregator"
	"github.com/NaTo1000/infinite-server26/lib/clock"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// SnapshotReader supplies the current snapshot.
type SnapshotReader interface {
	Read() *status.Snapshot
}

// Demoter applies synthetic demotions. *aggregator.Aggregator
// implements it.
type Demoter interface {
	Demote(id status.SubsystemID, basisTimestamp int64, silence time.Duration) (*status.Snapshot, error)
}

// Expirer removes idle subscriptions. *hub.Hub implements it.
type Expirer interface {
	ExpireIdle(now time.Time) int
}

// Config configures a Monitor.
type Config struct {
	Store   SnapshotReader
	Demoter Demoter
	Clock   clock.Clock
	Logger  *slog.Logger

	// Expirer, if set, is run every cycle.
	Expirer Expirer

	// Period is the time between cycles.
	Period time.Duration

	// DefaultInterval is the expected reporting interval for
	// subsystems without an entry in Intervals.
	DefaultInterval time.Duration

	Intervals map[status.SubsystemID]time.Duration

	// SummaryInterval is the time between posture summary log lines.
	// Zero disables the summary.
	SummaryInterval time.Duration
}

// CycleResult describes what one cycle did.
type CycleResult struct {
	Demoted []status.SubsystemID
	Expired int
}

// Monitor runs staleness cycles.
type Monitor struct {
	store           SnapshotReader
	demoter         Demoter
	expirer         Expirer
	clock           clock.Clock
	logger          *slog.Logger
	period          time.Duration
	defaultInterval time.Duration
	intervals       map[status.SubsystemID]time.Duration
	summaryInterval time.Duration

	// lastSummary is only touched by the cycle goroutine.
	lastSummary time.Time
}

// New creates a Monitor.
func New(config Config) *Monitor {
	if config.Store == nil || config.Demoter == nil || config.Clock == nil || config.Logger == nil {
		panic("staleness: Store, Demoter, Clock, and Logger are required")
	}
	if config.Period <= 0 || config.DefaultInterval <= 0 {
		panic("staleness: Period and DefaultInterval must be positive")
	}
	return &Monitor{
		store:           config.Store,
		demoter:         config.Demoter,
		expirer:         config.Expirer,
		clock:           config.Clock,
		logger:          config.Logger,
		period:          config.Period,
		defaultInterval: config.DefaultInterval,
		intervals:       config.Intervals,
		summaryInterval: config.SummaryInterval,
		lastSummary:     config.Clock.Now(),
	}
}

// Interval returns the expected reporting interval for id.
func (m *Monitor) Interval(id status.SubsystemID) time.Duration {
	if interval, ok := m.intervals[id]; ok && interval > 0 {
		return interval
	}
	return m.defaultInterval
}

// Run executes a cycle every period until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.period)
	defer ticker.Stop()

	m.logger.Info("staleness monitor started",
		"period", m.period,
		"default_interval", m.defaultInterval,
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Cycle(now)
		}
	}
}

// Cycle runs one staleness pass at now.
func (m *Monitor) Cycle(now time.Time) CycleResult {
	var result CycleResult

	snapshot := m.store.Read()
	for _, id := range snapshot.SortedSubsystems() {
		report := snapshot.Subsystems[id]
		if report.Unresponsive() {
			continue
		}
		silence := now.Sub(report.ReceivedAt)
		if silence <= m.Interval(id) {
			continue
		}

		demoted, err := m.demoter.Demote(id, report.Timestamp, silence)
		if err != nil {
			if errors.Is(err, aggregator.ErrSuperseded) {
				// A fresh report landed between the read and the
				// demotion; the subsystem is alive.
				continue
			}
			m.logger.Error("staleness demotion failed", "subsystem", id, "error", err)
			continue
		}
		result.Demoted = append(result.Demoted, id)
		m.logger.Warn("subsystem unresponsive",
			"subsystem", id,
			"silence", silence.Round(time.Second),
			"interval", m.Interval(id),
			"generation", demoted.Generation,
		)
	}

	if m.expirer != nil {
		result.Expired = m.expirer.ExpireIdle(now)
	}

	if m.summaryInterval > 0 && now.Sub(m.lastSummary) >= m.summaryInterval {
		m.lastSummary = now
		m.logSummary(m.store.Read())
	}
	return result
}

func (m *Monitor) logSummary(snapshot *status.Snapshot) {
	counts := snapshot.StatusCounts()
	unresponsive := 0
	for _, report := range snapshot.Subsystems {
		if report.Unresponsive() {
			unresponsive++
		}
	}
	m.logger.Info("status summary",
		"posture", snapshot.Posture,
		"label", snapshot.Posture.Label(),
		"generation", snapshot.Generation,
		"online", counts[status.StatusOnline],
		"degraded", counts[status.StatusDegraded],
		"offline", counts[status.StatusOffline],
		"unresponsive", unresponsive,
	)
}
