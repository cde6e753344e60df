// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

const timeLayout = "2006-01-02 15:04:05Z07:00"

func writeSnapshot(w io.Writer, snapshot *status.Snapshot) error {
	fmt.Fprintf(w, "%s  posture=%s generation=%d", snapshot.Posture.Label(), snapshot.Posture, snapshot.Generation)
	if !snapshot.UpdatedAt.IsZero() {
		fmt.Fprintf(w, " updated=%s", snapshot.UpdatedAt.Format(timeLayout))
	}
	fmt.Fprintln(w)

	if len(snapshot.Subsystems) == 0 {
		fmt.Fprintln(w, "no subsystem has reported")
		return nil
	}

	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBSYSTEM\tSTATUS\tMODE\tRECEIVED\tMETRICS\tMESSAGE")
	for _, id := range snapshot.SortedSubsystems() {
		report := snapshot.Subsystems[id]
		state := report.Status.Label()
		if report.Synthetic {
			state += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			id, state, report.Mode, report.ReceivedAt.Format(timeLayout),
			formatMetrics(report.Metrics), report.Message)
	}
	return tw.Flush()
}

// formatMetrics renders metrics as sorted name=value pairs.
func formatMetrics(metrics map[string]float64) string {
	if len(metrics) == 0 {
		return "-"
	}
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + strconv.FormatFloat(metrics[name], 'g', -1, 64)
	}
	return strings.Join(pairs, ",")
}

func writeActivity(w io.Writer, result activityResult) error {
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "no activity")
		return nil
	}
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tSEVERITY\tSUBSYSTEM\tMESSAGE")
	for _, entry := range result.Entries {
		subsystem := string(entry.Subsystem)
		if subsystem == "" {
			subsystem = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			entry.Sequence, entry.Timestamp.Format(timeLayout), entry.Severity, subsystem, entry.Text)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d of %d retained, %d evicted\n", result.Retained, result.Capacity, result.Evicted)
	return nil
}

func writeStatus(w io.Writer, result daemonStatus) error {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "version\t%s\n", result.Build.Version)
	fmt.Fprintf(tw, "uptime\t%s\n", (time.Duration(result.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(tw, "ready\t%t\n", result.Ready)
	fmt.Fprintf(tw, "posture\t%s (%s)\n", result.Label, result.Posture)
	fmt.Fprintf(tw, "generation\t%d\n", result.Generation)
	fmt.Fprintf(tw, "subsystems\t%d reporting\n", result.Subsystems)
	fmt.Fprintf(tw, "reports\t%d accepted, %d stale, %d unknown subsystem, %d invalid\n",
		result.Ingest.Accepted, result.Ingest.StaleReport, result.Ingest.UnknownSubsystem,
		result.Ingest.InvalidMetric+result.Ingest.InvalidStatus)
	fmt.Fprintf(tw, "subscribers\t%d poll, %d push\n", result.Hub.PollSubscribers, result.Hub.PushSubscribers)
	fmt.Fprintf(tw, "frames\t%d delivered, %d failed, %d dropped\n",
		result.Hub.FramesDelivered, result.Hub.DeliveryFailures, result.Hub.Dropped)
	return tw.Flush()
}
