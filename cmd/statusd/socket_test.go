// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/clock"
	"github.com/NaTo1000/infinite-server26/lib/codec"
	"github.com/NaTo1000/infinite-server26/lib/config"
	"github.com/NaTo1000/infinite-server26/lib/hub"
	"github.com/NaTo1000/infinite-server26/lib/ingest"
	"github.com/NaTo1000/infinite-server26/lib/pushsink"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
	"github.com/NaTo1000/infinite-server26/lib/service"
	"github.com/NaTo1000/infinite-server26/lib/testutil"
)

// startSocketDaemon runs a daemon listening only on a socket and
// returns a client for it once the socket answers.
func startSocketDaemon(t *testing.T) (*daemon, *service.ServiceClient) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "statusd.sock")
	d := newDaemon(testConfig(func(cfg *config.Config) {
		cfg.Listen.Socket = socketPath
	}), clock.Fake(testEpoch), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, waitTimeout, "daemon did not stop"); err != nil {
			t.Errorf("run = %v", err)
		}
	})

	client := service.NewServiceClient(socketPath)
	deadline := time.Now().Add(waitTimeout)
	for {
		if err := client.Call(context.Background(), "status", nil, nil); err == nil {
			return d, client
		}
		if time.Now().After(deadline) {
			t.Fatal("socket never answered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func reportFields(id status.SubsystemID, timestamp int64, state status.Status) map[string]any {
	return map[string]any{
		"subsystem": string(id),
		"timestamp": timestamp,
		"status":    string(state),
		"mode":      "ACTIVE",
		"metrics":   map[string]float64{"load": 0.5},
	}
}

func TestSocketSubmitAndSnapshot(t *testing.T) {
	_, client := startSocketDaemon(t)
	ctx := context.Background()

	var accepted ingest.Accepted
	if err := client.Call(ctx, "submit", reportFields(status.Orchestrator, 7, status.StatusOnline), &accepted); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if accepted.Generation != 1 {
		t.Errorf("generation = %d, want 1", accepted.Generation)
	}

	err := client.Call(ctx, "submit", reportFields(status.Orchestrator, 7, status.StatusOnline), nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("stale submit = %v, want *service.ServiceError", err)
	}
	if !strings.Contains(serviceErr.Message, "stale report") {
		t.Errorf("stale submit message = %q", serviceErr.Message)
	}

	var snapshot status.Snapshot
	if err := client.Call(ctx, "snapshot", nil, &snapshot); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	orchestrator, ok := snapshot.Report(status.Orchestrator)
	if !ok {
		t.Fatal("orchestrator missing from snapshot")
	}
	if orchestrator.Timestamp != 7 || orchestrator.Metrics["load"] != 0.5 {
		t.Errorf("orchestrator = %+v", orchestrator)
	}
	if snapshot.Digest != status.ComputeDigest(&snapshot) {
		t.Error("snapshot digest does not survive the socket round trip")
	}

	var summary statusResponse
	if err := client.Call(ctx, "status", nil, &summary); err != nil {
		t.Fatalf("status: %v", err)
	}
	if summary.Ingest.Accepted != 1 || summary.Ingest.StaleReport != 1 {
		t.Errorf("ingest stats = %+v, want 1 accepted and 1 stale", summary.Ingest)
	}
}

func TestSocketPollSubscription(t *testing.T) {
	_, client := startSocketDaemon(t)
	ctx := context.Background()

	var subscription hub.Subscription
	if err := client.Call(ctx, "subscribe", map[string]any{"client_id": "ctl"}, &subscription); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if subscription.Mode != hub.ModePoll {
		t.Errorf("mode = %s, want poll", subscription.Mode)
	}

	if err := client.Call(ctx, "subscribe", map[string]any{"client_id": "ctl", "mode": "push"}, nil); err == nil {
		t.Error("push subscribe over the socket succeeded")
	}

	if err := client.Call(ctx, "submit", reportFields(status.Host, 1, status.StatusOnline), nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var result hub.PollResult
	if err := client.Call(ctx, "poll", map[string]any{"client_id": "ctl"}, &result); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !result.Subscribed || result.NotModified || result.Snapshot == nil || result.Generation != 1 {
		t.Errorf("poll = %+v, want generation 1 snapshot", result)
	}

	if err := client.Call(ctx, "poll", nil, nil); err == nil {
		t.Error("poll without client_id succeeded")
	}

	var removed unsubscribeResponse
	if err := client.Call(ctx, "unsubscribe", map[string]any{"client_id": "ctl"}, &removed); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if !removed.Removed {
		t.Error("unsubscribe reported no subscription")
	}

	var activity activityResponse
	if err := client.Call(ctx, "activity", map[string]any{"limit": 1}, &activity); err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(activity.Entries) != 1 {
		t.Errorf("activity entries = %d, want 1", len(activity.Entries))
	}
	if err := client.Call(ctx, "activity", map[string]any{"limit": -1}, nil); err == nil {
		t.Error("negative activity limit accepted")
	}
}

func TestSocketWatch(t *testing.T) {
	d, client := startSocketDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	stream, err := client.Stream(ctx, "watch", map[string]any{"client_id": "watcher", "compression": "lz4"})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	decoder := pushsink.NewStreamDecoder(stream.Next, codec.CompressionLZ4)

	first, err := decoder.Next()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if first.Type != status.FrameSnapshot || first.Generation != 0 {
		t.Fatalf("first frame = %s at %d, want snapshot at 0", first.Type, first.Generation)
	}

	if err := client.Call(ctx, "submit", reportFields(status.MeshShield, 1, status.StatusOffline), nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	next, err := decoder.Next()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if next.Type != status.FrameDiff {
		t.Fatalf("second frame = %s, want diff", next.Type)
	}
	applied, err := next.Delta.Apply(first.Snapshot)
	if err != nil {
		t.Fatalf("applying delta: %v", err)
	}
	if applied.Posture != status.PostureCritical {
		t.Errorf("posture = %s, want critical", applied.Posture)
	}

	stream.Close()
	waitReleased(t, d, "watcher")
}

func TestSocketWatchRejectsBadOptions(t *testing.T) {
	_, client := startSocketDaemon(t)

	_, err := client.Stream(context.Background(), "watch", map[string]any{"compression": "gzip"})
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("watch with gzip = %v, want *service.ServiceError", err)
	}
}
