// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/NaTo1000/infinite-server26/cmd/statusctl/cli"
	"github.com/NaTo1000/infinite-server26/lib/config"
	"github.com/NaTo1000/infinite-server26/lib/hub"
	"github.com/NaTo1000/infinite-server26/lib/ingest"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
	"github.com/NaTo1000/infinite-server26/lib/service"
	"github.com/NaTo1000/infinite-server26/lib/version"
)

// socketEnvironmentVariable overrides the default socket path.
const socketEnvironmentVariable = "STATUSD_SOCKET"

// defaultTimeout bounds one request/response action.
const defaultTimeout = 10 * time.Second

// app carries what every command needs: the process context, the
// output streams, and a logger on stderr.
type app struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func newApp(ctx context.Context, stdout, stderr io.Writer) *app {
	return &app{ctx: ctx, stdout: stdout, stderr: stderr, logger: cli.NewCommandLogger(stderr)}
}

// connection holds the flags shared by every command that talks to
// the daemon.
type connection struct {
	socket  string
	timeout time.Duration
	json    bool
}

func (c *connection) bind(flagSet *pflag.FlagSet) {
	socket := os.Getenv(socketEnvironmentVariable)
	if socket == "" {
		socket = config.DefaultSocketPath()
	}
	flagSet.StringVar(&c.socket, "socket", socket, "statusd socket path (env "+socketEnvironmentVariable+")")
	flagSet.DurationVar(&c.timeout, "timeout", defaultTimeout, "request timeout")
	flagSet.BoolVar(&c.json, "json", false, "output as JSON")
}

// call performs one action within the connection timeout.
func (a *app) call(conn *connection, action string, fields map[string]any, result any) error {
	ctx, cancel := context.WithTimeout(a.ctx, conn.timeout)
	defer cancel()
	return service.NewServiceClient(conn.socket).Call(ctx, action, fields, result)
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:        "statusctl",
		Description: "Query and feed the statusd status aggregation daemon.",
		Help:        a.stderr,
		Subcommands: []*cli.Command{
			a.submitCommand(),
			a.snapshotCommand(),
			a.checkCommand(),
			a.activityCommand(),
			a.subscribeCommand(),
			a.unsubscribeCommand(),
			a.pollCommand(),
			a.watchCommand(),
			a.statusCommand(),
			a.versionCommand(),
		},
	}
}

func (a *app) submitCommand() *cli.Command {
	var (
		conn      connection
		subsystem string
		state     string
		mode      string
		message   string
		timestamp int64
		metrics   []string
	)
	return &cli.Command{
		Name:    "submit",
		Summary: "Submit a status report for a subsystem",
		Description: `Submit a status report for a subsystem.

The timestamp orders reports from one subsystem and must increase with
every submission. It defaults to the current time in milliseconds.`,
		Examples: []cli.Example{
			{
				Description: "Report the ledger degraded with a peer count",
				Command:     "statusctl submit --subsystem ledger --status degraded --metric peers=2",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("submit")
			conn.bind(flagSet)
			flagSet.StringVar(&subsystem, "subsystem", "", "subsystem ID (required)")
			flagSet.StringVar(&state, "status", "", "online, degraded, or offline (required)")
			flagSet.StringVar(&mode, "mode", "ACTIVE", "operating mode label")
			flagSet.StringVar(&message, "message", "", "human-readable detail")
			flagSet.Int64Var(&timestamp, "timestamp", 0, "ordering timestamp (default now in ms)")
			flagSet.StringArrayVar(&metrics, "metric", nil, "metric as name=value (repeatable)")
			return flagSet
		},
		Run: func(args []string) error {
			if subsystem == "" || state == "" {
				return fmt.Errorf("--subsystem and --status are required")
			}
			parsed, err := parseMetrics(metrics)
			if err != nil {
				return err
			}
			if timestamp == 0 {
				timestamp = time.Now().UnixMilli()
			}
			fields := map[string]any{
				"subsystem": subsystem,
				"timestamp": timestamp,
				"status":    state,
				"mode":      mode,
			}
			if len(parsed) > 0 {
				fields["metrics"] = parsed
			}
			if message != "" {
				fields["message"] = message
			}

			var accepted ingest.Accepted
			if err := a.call(&conn, "submit", fields, &accepted); err != nil {
				logger := a.logger.With("command", "submit", "subsystem", subsystem, "timestamp", timestamp)
				var serviceErr *service.ServiceError
				if errors.As(err, &serviceErr) {
					logger.Warn("report rejected", "error", serviceErr.Message)
				} else {
					logger.Error("daemon unreachable", "socket", conn.socket, "error", err)
				}
				return err
			}
			if conn.json {
				return cli.WriteJSON(a.stdout, accepted)
			}
			fmt.Fprintf(a.stdout, "accepted at generation %d\n", accepted.Generation)
			return nil
		},
	}
}

// parseMetrics converts name=value pairs to a metric map.
func parseMetrics(pairs []string) (map[string]float64, error) {
	metrics := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("metric %q: want name=value", pair)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", pair, err)
		}
		metrics[name] = value
	}
	return metrics, nil
}

func (a *app) snapshotCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "snapshot",
		Summary: "Show the current snapshot",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("snapshot")
			conn.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var snapshot status.Snapshot
			if err := a.call(&conn, "snapshot", nil, &snapshot); err != nil {
				return err
			}
			if conn.json {
				return cli.WriteJSON(a.stdout, &snapshot)
			}
			return writeSnapshot(a.stdout, &snapshot)
		},
	}
}

// postureExitCodes are the check command's exit statuses.
var postureExitCodes = map[status.Posture]int{
	status.PostureNominal:  0,
	status.PostureDegraded: 1,
	status.PostureCritical: 2,
	status.PostureUnknown:  3,
}

func (a *app) checkCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "check",
		Summary: "Print the posture and exit with its status code",
		Description: `Print the posture label and exit with a code for it:
0 nominal, 1 degraded, 2 critical, 3 awaiting reports.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("check")
			conn.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var snapshot status.Snapshot
			if err := a.call(&conn, "snapshot", nil, &snapshot); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s (generation %d)\n", snapshot.Posture.Label(), snapshot.Generation)
			code, ok := postureExitCodes[snapshot.Posture]
			if !ok {
				code = postureExitCodes[status.PostureUnknown]
			}
			if code != 0 {
				return &cli.ExitError{Code: code}
			}
			return nil
		},
	}
}

// activityResult mirrors the daemon's activity response.
type activityResult struct {
	Entries  []status.ActivityEntry `json:"entries"`
	Retained int                    `json:"retained"`
	Capacity int                    `json:"capacity"`
	Evicted  uint64                 `json:"evicted"`
}

func (a *app) activityCommand() *cli.Command {
	var (
		conn  connection
		limit int
	)
	return &cli.Command{
		Name:    "activity",
		Summary: "Show recent activity log entries",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("activity")
			conn.bind(flagSet)
			flagSet.IntVarP(&limit, "limit", "n", 20, "number of entries")
			return flagSet
		},
		Run: func(args []string) error {
			var result activityResult
			if err := a.call(&conn, "activity", map[string]any{"limit": limit}, &result); err != nil {
				return err
			}
			if conn.json {
				return cli.WriteJSON(a.stdout, result)
			}
			return writeActivity(a.stdout, result)
		},
	}
}

func (a *app) subscribeCommand() *cli.Command {
	var (
		conn     connection
		clientID string
	)
	return &cli.Command{
		Name:    "subscribe",
		Summary: "Open a poll subscription",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("subscribe")
			conn.bind(flagSet)
			flagSet.StringVar(&clientID, "client-id", "", "subscriber ID (default generated)")
			return flagSet
		},
		Run: func(args []string) error {
			fields := map[string]any{"mode": string(hub.ModePoll)}
			if clientID != "" {
				fields["client_id"] = clientID
			}
			var subscription hub.Subscription
			if err := a.call(&conn, "subscribe", fields, &subscription); err != nil {
				return err
			}
			if conn.json {
				return cli.WriteJSON(a.stdout, subscription)
			}
			fmt.Fprintf(a.stdout, "subscribed %s\n", subscription.ClientID)
			return nil
		},
	}
}

func (a *app) unsubscribeCommand() *cli.Command {
	var (
		conn     connection
		clientID string
	)
	return &cli.Command{
		Name:    "unsubscribe",
		Summary: "Remove a subscription",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("unsubscribe")
			conn.bind(flagSet)
			flagSet.StringVar(&clientID, "client-id", "", "subscriber ID (required)")
			return flagSet
		},
		Run: func(args []string) error {
			if clientID == "" {
				return fmt.Errorf("--client-id is required")
			}
			var result struct {
				Removed bool `json:"removed"`
			}
			if err := a.call(&conn, "unsubscribe", map[string]any{"client_id": clientID}, &result); err != nil {
				return err
			}
			if conn.json {
				return cli.WriteJSON(a.stdout, result)
			}
			if result.Removed {
				fmt.Fprintf(a.stdout, "removed %s\n", clientID)
			} else {
				fmt.Fprintf(a.stdout, "no subscription for %s\n", clientID)
			}
			return nil
		},
	}
}

func (a *app) pollCommand() *cli.Command {
	var (
		conn     connection
		clientID string
	)
	return &cli.Command{
		Name:    "poll",
		Summary: "Poll a subscription for a newer snapshot",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("poll")
			conn.bind(flagSet)
			flagSet.StringVar(&clientID, "client-id", "", "subscriber ID (required)")
			return flagSet
		},
		Run: func(args []string) error {
			if clientID == "" {
				return fmt.Errorf("--client-id is required")
			}
			var result hub.PollResult
			if err := a.call(&conn, "poll", map[string]any{"client_id": clientID}, &result); err != nil {
				return err
			}
			if conn.json {
				return cli.WriteJSON(a.stdout, result)
			}
			switch {
			case !result.Subscribed:
				fmt.Fprintf(a.stdout, "no poll subscription for %s\n", clientID)
			case result.RateLimited:
				fmt.Fprintf(a.stdout, "rate limited at generation %d\n", result.Generation)
			case result.NotModified:
				fmt.Fprintf(a.stdout, "not modified since generation %d\n", result.Generation)
			default:
				return writeSnapshot(a.stdout, result.Snapshot)
			}
			return nil
		},
	}
}

// daemonStatus mirrors the parts of the daemon's status response the
// text output uses. --json passes the full response through.
type daemonStatus struct {
	Build         version.Build  `json:"build"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Ready         bool           `json:"ready"`
	Posture       status.Posture `json:"posture"`
	Label         string         `json:"label"`
	Generation    uint64         `json:"generation"`
	Subsystems    int            `json:"subsystems"`
	Ingest        ingest.Stats   `json:"ingest"`
	Hub           hub.Stats      `json:"hub"`
}

func (a *app) statusCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "status",
		Summary: "Show daemon status and counters",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("status")
			conn.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if conn.json {
				var raw map[string]any
				if err := a.call(&conn, "status", nil, &raw); err != nil {
					return err
				}
				return cli.WriteJSON(a.stdout, raw)
			}
			var result daemonStatus
			if err := a.call(&conn, "status", nil, &result); err != nil {
				return err
			}
			return writeStatus(a.stdout, result)
		},
	}
}

func (a *app) versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print statusctl version information",
		Run: func(args []string) error {
			fmt.Fprintf(a.stdout, "statusctl %s\n", version.Full())
			return nil
		},
	}
}
