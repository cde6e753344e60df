// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/clock"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
	"github.com/NaTo1000/infinite-server26/lib/statestore"
)

// ErrOutOfOrder is returned by Apply when the report's timestamp does
// not advance past the stored report for its subsystem. Signal ingest
// checks this too, but only the check under the aggregator's lock is
// authoritative.
var ErrOutOfOrder = errors.New("report timestamp does not advance")

// ErrTimestampExhausted is returned by Demote when the subsystem's
// latest timestamp has no successor left for a demotion report.
var ErrTimestampExhausted = errors.New("report timestamp has no successor")

// ErrSuperseded is returned by Demote when the report it was asked to
// demote is no longer the subsystem's latest, or was already demoted.
var ErrSuperseded = errors.New("demotion basis superseded")

// Notifier is told about every committed generation. Notify must
// return promptly: it runs on the write path.
type Notifier interface {
	Notify(generation uint64)
}

// Config holds the Aggregator's collaborators and policy.
type Config struct {
	Store  *statestore.Store
	Clock  clock.Clock
	Logger *slog.Logger

	// CriticalPath lists the subsystems whose Offline status makes the
	// overall posture critical.
	CriticalPath []status.SubsystemID

	Thresholds []Threshold

	// Notifier, if set, is called after every commit.
	Notifier Notifier

	// OnInvariantFailure is called when the store refuses a commit.
	// The daemon uses it to terminate. If nil the error is only logged
	// and returned.
	OnInvariantFailure func(error)
}

// Aggregator applies reports to the state store.
type Aggregator struct {
	store      *statestore.Store
	clock      clock.Clock
	logger     *slog.Logger
	critical   map[status.SubsystemID]bool
	thresholds map[status.SubsystemID][]Threshold
	notifier   Notifier
	onFailure  func(error)

	// mu serializes the read-modify-commit sequence.
	mu sync.Mutex
}

// New creates an Aggregator. Store, Clock and Logger are required.
func New(config Config) *Aggregator {
	if config.Store == nil || config.Clock == nil || config.Logger == nil {
		panic("aggregator: Store, Clock, and Logger are required")
	}
	critical := make(map[status.SubsystemID]bool, len(config.CriticalPath))
	for _, id := range config.CriticalPath {
		critical[id] = true
	}
	thresholds := make(map[status.SubsystemID][]Threshold)
	for _, threshold := range config.Thresholds {
		thresholds[threshold.Subsystem] = append(thresholds[threshold.Subsystem], threshold)
	}
	return &Aggregator{
		store:      config.Store,
		clock:      config.Clock,
		logger:     config.Logger,
		critical:   critical,
		thresholds: thresholds,
		notifier:   config.Notifier,
		onFailure:  config.OnInvariantFailure,
	}
}

// SetNotifier replaces the commit notifier. Used during startup to
// break the construction cycle between the aggregator and the hub.
func (a *Aggregator) SetNotifier(notifier Notifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifier = notifier
}

// IsCritical reports whether id is on the critical path.
func (a *Aggregator) IsCritical(id status.SubsystemID) bool {
	return a.critical[id]
}

// Apply stores report as its subsystem's latest and commits a new
// snapshot. The report's ReceivedAt is set to the current time;
// Synthetic is cleared, since only Demote produces synthetic reports.
func (a *Aggregator) Apply(report status.Report) (*status.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	report = report.Clone()
	report.Synthetic = false

	current := a.store.Read()
	if previous, ok := current.Subsystems[report.Subsystem]; ok && !previous.Admits(report) {
		return nil, fmt.Errorf("%w: %s timestamp %d, stored %d",
			ErrOutOfOrder, report.Subsystem, report.Timestamp, previous.Timestamp)
	}
	return a.commitLocked(current, report)
}

// Demote replaces a subsystem's report with a synthetic Offline
// report in mode UNRESPONSIVE. basisTimestamp is the timestamp of the
// report the caller judged stale; if the subsystem has reported since,
// or is already demoted, Demote returns ErrSuperseded and changes
// nothing. silence is how long the subsystem has been quiet, recorded
// in the synthetic report's message.
func (a *Aggregator) Demote(id status.SubsystemID, basisTimestamp int64, silence time.Duration) (*status.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.store.Read()
	previous, ok := current.Subsystems[id]
	if !ok || previous.Timestamp != basisTimestamp || previous.Unresponsive() {
		return nil, fmt.Errorf("%w: %s", ErrSuperseded, id)
	}
	if previous.Timestamp == math.MaxInt64 {
		return nil, fmt.Errorf("%w: %s at %d", ErrTimestampExhausted, id, previous.Timestamp)
	}

	demotion := status.Report{
		Subsystem: id,
		Timestamp: previous.Timestamp + 1,
		Status:    status.StatusOffline,
		Mode:      status.ModeUnresponsive,
		Message:   fmt.Sprintf("no report for %s", silence.Round(time.Second)),
		Synthetic: true,
	}
	return a.commitLocked(current, demotion)
}

// commitLocked builds the successor of current with report applied,
// commits it, and notifies. Caller holds a.mu.
func (a *Aggregator) commitLocked(current *status.Snapshot, report status.Report) (*status.Snapshot, error) {
	now := a.clock.Now().UTC()
	report.ReceivedAt = now

	var previous *status.Report
	if old, ok := current.Subsystems[report.Subsystem]; ok {
		previous = &old
	}

	next := current.Clone()
	next.Subsystems[report.Subsystem] = report
	next.Generation = current.Generation + 1
	next.Posture = ComputePosture(next.Subsystems, a.critical)
	next.UpdatedAt = now
	next.Seal()

	entries := a.transitionEntries(previous, report, now)
	if next.Posture != current.Posture {
		entries = append(entries, status.ActivityEntry{
			Timestamp: now,
			Severity:  postureSeverity(next.Posture),
			Text:      fmt.Sprintf("posture: %s → %s (%s)", current.Posture, next.Posture, next.Posture.Label()),
		})
	}

	if err := a.store.Commit(next, entries); err != nil {
		a.logger.Error("snapshot commit refused",
			"subsystem", report.Subsystem,
			"generation", next.Generation,
			"error", err,
		)
		if a.onFailure != nil && errors.Is(err, statestore.ErrInvariant) {
			a.onFailure(err)
		}
		return nil, err
	}

	a.logCommit(previous, report, next)
	if a.notifier != nil {
		a.notifier.Notify(next.Generation)
	}
	return next, nil
}

// transitionEntries returns the activity entries a report produces:
// one for a status or mode change, plus one per threshold crossing.
func (a *Aggregator) transitionEntries(previous *status.Report, report status.Report, now time.Time) []status.ActivityEntry {
	var entries []status.ActivityEntry

	var oldStatus status.Status
	var oldMode string
	if previous != nil {
		oldStatus = previous.Status
		oldMode = previous.Mode
	}

	switch {
	case oldStatus != report.Status:
		text := fmt.Sprintf("%s: %s → %s", report.Subsystem, oldStatus.Label(), report.Status.Label())
		if previous != nil && oldMode != report.Mode && report.Mode != "" {
			text += " (" + report.Mode + ")"
		}
		entries = append(entries, status.ActivityEntry{
			Timestamp: now,
			Subsystem: report.Subsystem,
			Severity:  status.SeverityForStatus(report.Status),
			Text:      text,
		})
	case oldMode != report.Mode:
		entries = append(entries, status.ActivityEntry{
			Timestamp: now,
			Subsystem: report.Subsystem,
			Severity:  status.SeverityInfo,
			Text:      fmt.Sprintf("%s: mode %s → %s", report.Subsystem, oldMode, report.Mode),
		})
	}

	for _, threshold := range a.thresholds[report.Subsystem] {
		if entry, ok := threshold.crossing(previous, report); ok {
			entry.Timestamp = now
			entries = append(entries, entry)
		}
	}
	return entries
}

func (a *Aggregator) logCommit(previous *status.Report, report status.Report, next *status.Snapshot) {
	if previous == nil || previous.Status != report.Status {
		var from status.Status
		if previous != nil {
			from = previous.Status
		}
		a.logger.Info("subsystem status changed",
			"subsystem", report.Subsystem,
			"from", from.Label(),
			"to", report.Status.Label(),
			"mode", report.Mode,
			"synthetic", report.Synthetic,
			"generation", next.Generation,
			"posture", next.Posture,
		)
		return
	}
	a.logger.Debug("report applied",
		"subsystem", report.Subsystem,
		"timestamp", report.Timestamp,
		"generation", next.Generation,
	)
}

func postureSeverity(posture status.Posture) status.Severity {
	switch posture {
	case status.PostureCritical:
		return status.SeverityCritical
	case status.PostureDegraded:
		return status.SeverityWarning
	default:
		return status.SeverityInfo
	}
}
