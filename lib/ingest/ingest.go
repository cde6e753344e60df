// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/NaTo1000/infinite-server26/lib/aggregator"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// Rejection categories.
var (
	ErrStaleReport      = errors.New("stale report")
	ErrUnknownSubsystem = errors.New("unknown subsystem")
	ErrInvalidMetric    = errors.New("invalid metric")
	ErrInvalidStatus    = errors.New("invalid status")
)

// maxMessageLength bounds Report.Message in bytes. Longer messages are
// truncated at a rune boundary.
const maxMessageLength = 1024

// RejectError describes why a report was refused.
type RejectError struct {
	Subsystem status.SubsystemID

	// Reason is one of the package's rejection sentinels.
	Reason error

	Detail string
}

func (e *RejectError) Error() string {
	if e.Subsystem == "" {
		return fmt.Sprintf("%v: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %v: %s", e.Subsystem, e.Reason, e.Detail)
}

func (e *RejectError) Unwrap() error { return e.Reason }

// Applier is the write path accepted reports are handed to.
// *aggregator.Aggregator implements it.
type Applier interface {
	Apply(report status.Report) (*status.Snapshot, error)
}

// SnapshotReader supplies the current snapshot for the ordering
// pre-check. *statestore.Store implements it.
type SnapshotReader interface {
	Read() *status.Snapshot
}

// Config configures an Ingest.
type Config struct {
	Applier Applier
	Store   SnapshotReader
	Logger  *slog.Logger

	// Enabled narrows the accepted subsystems. Empty means every
	// known subsystem.
	Enabled []status.SubsystemID
}

// Accepted is the result of a successful Submit.
type Accepted struct {
	Generation uint64 `json:"generation"`
}

// Stats are cumulative Submit counters.
type Stats struct {
	Accepted         uint64 `json:"accepted"`
	StaleReport      uint64 `json:"stale_report"`
	UnknownSubsystem uint64 `json:"unknown_subsystem"`
	InvalidMetric    uint64 `json:"invalid_metric"`
	InvalidStatus    uint64 `json:"invalid_status"`
}

// Ingest is the entry point for subsystem reports. Safe for concurrent
// use.
type Ingest struct {
	applier Applier
	store   SnapshotReader
	logger  *slog.Logger
	enabled map[status.SubsystemID]bool

	accepted         atomic.Uint64
	staleReport      atomic.Uint64
	unknownSubsystem atomic.Uint64
	invalidMetric    atomic.Uint64
	invalidStatus    atomic.Uint64
}

// New creates an Ingest.
func New(config Config) *Ingest {
	if config.Applier == nil || config.Store == nil || config.Logger == nil {
		panic("ingest: Applier, Store, and Logger are required")
	}
	var enabled map[status.SubsystemID]bool
	if len(config.Enabled) > 0 {
		enabled = make(map[status.SubsystemID]bool, len(config.Enabled))
		for _, id := range config.Enabled {
			enabled[id] = true
		}
	}
	return &Ingest{
		applier: config.Applier,
		store:   config.Store,
		logger:  config.Logger,
		enabled: enabled,
	}
}

// Enabled reports whether reports for id are accepted.
func (i *Ingest) Enabled(id status.SubsystemID) bool {
	if !id.IsKnown() {
		return false
	}
	return i.enabled == nil || i.enabled[id]
}

// Submit validates and normalizes report, then applies it
// synchronously. The returned error is a *RejectError for every
// validation failure; any other error comes from the write path.
func (i *Ingest) Submit(report status.Report) (Accepted, error) {
	normalized, err := i.validate(report)
	if err != nil {
		return Accepted{}, i.reject(err)
	}

	snapshot, err := i.applier.Apply(normalized)
	if err != nil {
		if errors.Is(err, aggregator.ErrOutOfOrder) {
			return Accepted{}, i.reject(&RejectError{
				Subsystem: normalized.Subsystem,
				Reason:    ErrStaleReport,
				Detail:    err.Error(),
			})
		}
		return Accepted{}, err
	}

	i.accepted.Add(1)
	i.logger.Debug("report accepted",
		"subsystem", normalized.Subsystem,
		"timestamp", normalized.Timestamp,
		"generation", snapshot.Generation,
	)
	return Accepted{Generation: snapshot.Generation}, nil
}

// validate checks report and returns its normalized form: lowercase
// status, trimmed uppercase mode, trimmed metric names, and bounded
// message. Synthetic and ReceivedAt are cleared.
func (i *Ingest) validate(report status.Report) (status.Report, error) {
	id := status.SubsystemID(strings.TrimSpace(string(report.Subsystem)))
	if !i.Enabled(id) {
		return report, &RejectError{Subsystem: id, Reason: ErrUnknownSubsystem,
			Detail: fmt.Sprintf("%q is not an enabled subsystem", report.Subsystem)}
	}

	normalized := status.Report{
		Subsystem: id,
		Timestamp: report.Timestamp,
		Status:    status.Status(strings.ToLower(strings.TrimSpace(string(report.Status)))),
		Mode:      strings.ToUpper(strings.TrimSpace(report.Mode)),
		Message:   truncate(strings.TrimSpace(report.Message), maxMessageLength),
	}
	if !normalized.Status.IsKnown() {
		return report, &RejectError{Subsystem: id, Reason: ErrInvalidStatus,
			Detail: fmt.Sprintf("status %q is not online, degraded, or offline", report.Status)}
	}

	if len(report.Metrics) > 0 {
		normalized.Metrics = make(map[string]float64, len(report.Metrics))
		for name, value := range report.Metrics {
			trimmed := strings.TrimSpace(name)
			if trimmed == "" {
				return report, &RejectError{Subsystem: id, Reason: ErrInvalidMetric, Detail: "metric with empty name"}
			}
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return report, &RejectError{Subsystem: id, Reason: ErrInvalidMetric,
					Detail: fmt.Sprintf("metric %q is %v", trimmed, value)}
			}
			if _, duplicate := normalized.Metrics[trimmed]; duplicate {
				return report, &RejectError{Subsystem: id, Reason: ErrInvalidMetric,
					Detail: fmt.Sprintf("metric %q named more than once", trimmed)}
			}
			normalized.Metrics[trimmed] = value
		}
	}

	if normalized.Timestamp > status.MaxTimestamp {
		return report, &RejectError{Subsystem: id, Reason: ErrStaleReport,
			Detail: fmt.Sprintf("timestamp %d exceeds the maximum %d", normalized.Timestamp, int64(status.MaxTimestamp))}
	}

	// Cheap early rejection. The aggregator repeats the check under
	// its lock.
	if previous, ok := i.store.Read().Report(id); ok && !previous.Admits(normalized) {
		return report, &RejectError{Subsystem: id, Reason: ErrStaleReport,
			Detail: fmt.Sprintf("timestamp %d does not advance past %d", normalized.Timestamp, previous.Timestamp)}
	}
	return normalized, nil
}

func (i *Ingest) reject(err error) error {
	var rejection *RejectError
	if errors.As(err, &rejection) {
		switch rejection.Reason {
		case ErrStaleReport:
			i.staleReport.Add(1)
		case ErrUnknownSubsystem:
			i.unknownSubsystem.Add(1)
		case ErrInvalidMetric:
			i.invalidMetric.Add(1)
		case ErrInvalidStatus:
			i.invalidStatus.Add(1)
		}
		i.logger.Warn("report rejected",
			"subsystem", rejection.Subsystem,
			"reason", rejection.Reason,
			"detail", rejection.Detail,
		)
	}
	return err
}

// Stats returns a snapshot of the Submit counters.
func (i *Ingest) Stats() Stats {
	return Stats{
		Accepted:         i.accepted.Load(),
		StaleReport:      i.staleReport.Load(),
		UnknownSubsystem: i.unknownSubsystem.Load(),
		InvalidMetric:    i.invalidMetric.Load(),
		InvalidStatus:    i.invalidStatus.Load(),
	}
}

// truncate shortens s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
