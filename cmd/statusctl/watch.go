// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/spf13/pflag"

	"github.com/NaTo1000/infinite-server26/cmd/statusctl/cli"
	"github.com/NaTo1000/infinite-server26/lib/codec"
	"github.com/NaTo1000/infinite-server26/lib/pushsink"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
	"github.com/NaTo1000/infinite-server26/lib/service"
)

func (a *app) watchCommand() *cli.Command {
	var (
		conn        connection
		clientID    string
		mode        string
		compression string
		count       int
		heartbeats  bool
	)
	return &cli.Command{
		Name:    "watch",
		Summary: "Follow live snapshot frames",
		Description: `Open a push subscription on the socket and print each frame.

Diff frames are applied to the last snapshot and checked against the
frame's digest. With --json the reconstructed snapshot is written as
one JSON document per frame.`,
		Examples: []cli.Example{
			{Description: "Follow changes until interrupted", Command: "statusctl watch"},
			{Description: "Read one full snapshot frame and exit", Command: "statusctl watch --mode full --count 1 --json"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("watch")
			conn.bind(flagSet)
			flagSet.StringVar(&clientID, "client-id", "", "subscriber ID (default generated)")
			flagSet.StringVar(&mode, "mode", "diff", "push mode: diff or full")
			flagSet.StringVar(&compression, "compression", "none", "frame compression: none, zstd, or lz4")
			flagSet.IntVar(&count, "count", 0, "exit after this many snapshot or diff frames (0 follows forever)")
			flagSet.BoolVar(&heartbeats, "heartbeats", false, "print heartbeat frames")
			return flagSet
		},
		Run: func(args []string) error {
			algorithm, err := codec.ParseCompression(compression)
			if err != nil {
				return err
			}
			fields := map[string]any{"mode": mode, "compression": string(algorithm)}
			if clientID != "" {
				fields["client_id"] = clientID
			}

			logger := a.logger.With("command", "watch", "socket", conn.socket, "mode", mode)
			stream, err := service.NewServiceClient(conn.socket).Stream(a.ctx, "watch", fields)
			if err != nil {
				logger.Error("opening watch stream failed", "error", err)
				return err
			}
			defer stream.Close()

			follower := &follower{
				decoder:    pushsink.NewStreamDecoder(stream.Next, algorithm),
				out:        a.stdout,
				json:       conn.json,
				heartbeats: heartbeats,
			}
			err = follower.follow(count)
			if a.ctx.Err() != nil {
				return nil
			}
			if err != nil {
				var generation uint64
				if follower.current != nil {
					generation = follower.current.Generation
				}
				logger.Error("watch stream failed", "generation", generation, "error", err)
			}
			return err
		},
	}
}

// follower tracks the subscriber's view of the snapshot across frames.
type follower struct {
	decoder    *pushsink.StreamDecoder
	out        io.Writer
	json       bool
	heartbeats bool

	current *status.Snapshot
}

// follow reads frames until the stream ends or limit state-bearing
// frames have been printed. A zero limit follows until the stream ends.
func (f *follower) follow(limit int) error {
	printed := 0
	for limit == 0 || printed < limit {
		frame, err := f.decoder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		changed, err := f.apply(frame)
		if err != nil {
			return err
		}
		if frame.Type == status.FrameHeartbeat {
			if f.heartbeats && !f.json {
				fmt.Fprintf(f.out, "heartbeat generation=%d\n", frame.Generation)
			}
			continue
		}
		if err := f.print(frame, changed); err != nil {
			return err
		}
		printed++
	}
	return nil
}

// apply advances the tracked snapshot and returns the subsystems the
// frame changed.
func (f *follower) apply(frame status.Frame) ([]status.SubsystemID, error) {
	switch frame.Type {
	case status.FrameSnapshot:
		if frame.Snapshot == nil {
			return nil, fmt.Errorf("snapshot frame at generation %d has no snapshot", frame.Generation)
		}
		var changed []status.SubsystemID
		if f.current != nil {
			changed = status.Diff(f.current, frame.Snapshot).ChangedSubsystems()
		}
		f.current = frame.Snapshot
		return changed, nil
	case status.FrameDiff:
		if frame.Delta == nil {
			return nil, fmt.Errorf("diff frame at generation %d has no delta", frame.Generation)
		}
		if f.current == nil {
			return nil, fmt.Errorf("diff frame at generation %d before any snapshot", frame.Generation)
		}
		next, err := frame.Delta.Apply(f.current)
		if err != nil {
			return nil, fmt.Errorf("applying diff to generation %d: %w", f.current.Generation, err)
		}
		f.current = next
		return frame.Delta.ChangedSubsystems(), nil
	case status.FrameHeartbeat:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", frame.Type)
	}
}

func (f *follower) print(frame status.Frame, changed []status.SubsystemID) error {
	if f.json {
		return cli.WriteJSON(f.out, f.current)
	}
	line := fmt.Sprintf("%s generation=%d %s", frame.Type, f.current.Generation, f.current.Posture.Label())
	if len(changed) > 0 {
		names := make([]string, len(changed))
		for i, id := range changed {
			names[i] = string(id)
			if report, ok := f.current.Subsystems[id]; ok {
				names[i] += "=" + string(report.Status)
			}
		}
		line += " changed: " + strings.Join(names, ", ")
	}
	_, err := fmt.Fprintln(f.out, line)
	return err
}
