// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NaTo1000/infinite-server26/lib/aggregator"
	"github.com/NaTo1000/infinite-server26/lib/clock"
	"github.com/NaTo1000/infinite-server26/lib/config"
	"github.com/NaTo1000/infinite-server26/lib/hostprobe"
	"github.com/NaTo1000/infinite-server26/lib/hub"
	"github.com/NaTo1000/infinite-server26/lib/ingest"
	"github.com/NaTo1000/infinite-server26/lib/service"
	"github.com/NaTo1000/infinite-server26/lib/staleness"
	"github.com/NaTo1000/infinite-server26/lib/statestore"
)

// invariantError is returned by run when the store refused a commit.
type invariantError struct{ err error }

func (e *invariantError) Error() string { return "state invariant violated: " + e.err.Error() }
func (e *invariantError) Unwrap() error { return e.err }

// daemon wires the status pipeline: ingest feeds the aggregator, the
// aggregator commits to the store and notifies the hub, the staleness
// monitor demotes silent subsystems and expires idle subscriptions.
type daemon struct {
	config    *config.Config
	clock     clock.Clock
	logger    *slog.Logger
	startedAt time.Time

	store      *statestore.Store
	aggregator *aggregator.Aggregator
	hub        *hub.Hub
	ingest     *ingest.Ingest
	monitor    *staleness.Monitor
	probe      *hostprobe.Probe

	upgrader websocket.Upgrader

	// ready is set once the hub dispatcher and every configured
	// listener are running.
	ready atomic.Bool

	// failures receives the first invariant violation.
	failures chan error
}

// newDaemon builds the pipeline from cfg. sampler overrides the host
// probe's system sampler; nil uses gopsutil.
func newDaemon(cfg *config.Config, clk clock.Clock, logger *slog.Logger, sampler hostprobe.Sampler) *daemon {
	d := &daemon{
		config:    cfg,
		clock:     clk,
		logger:    logger,
		startedAt: clk.Now(),
		failures:  make(chan error, 1),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	d.store = statestore.New(cfg.ActivityLogCapacity)

	d.hub = hub.New(hub.Config{
		Store:             d.store,
		Clock:             clk,
		Logger:            logger.With("component", "hub"),
		PollMinInterval:   cfg.Hub.PollMinInterval,
		PushMode:          hub.PushMode(cfg.Hub.PushMode),
		Grace:             cfg.Hub.SubscriptionGrace,
		DeliveryAttempts:  cfg.Hub.DeliveryAttempts,
		DeliveryBackoff:   cfg.Hub.DeliveryBackoff,
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
	})

	d.aggregator = aggregator.New(aggregator.Config{
		Store:              d.store,
		Clock:              clk,
		Logger:             logger.With("component", "aggregator"),
		CriticalPath:       cfg.CriticalPath,
		Thresholds:         thresholds(cfg.Thresholds),
		Notifier:           d.hub,
		OnInvariantFailure: d.fail,
	})

	d.ingest = ingest.New(ingest.Config{
		Applier: d.aggregator,
		Store:   d.store,
		Logger:  logger.With("component", "ingest"),
		Enabled: cfg.EnabledSubsystems,
	})

	d.monitor = staleness.New(staleness.Config{
		Store:           d.store,
		Demoter:         d.aggregator,
		Clock:           clk,
		Logger:          logger.With("component", "staleness"),
		Expirer:         d.hub,
		Period:          cfg.Staleness.Period,
		DefaultInterval: cfg.Staleness.DefaultInterval,
		Intervals:       cfg.Staleness.Intervals,
		SummaryInterval: cfg.Staleness.SummaryInterval,
	})

	if cfg.HostProbe.Enabled {
		d.probe = hostprobe.New(hostprobe.Config{
			Submitter:             d.ingest,
			Sampler:               sampler,
			Clock:                 clk,
			Logger:                logger.With("component", "hostprobe"),
			Interval:              cfg.HostProbe.Interval,
			CPUDegradedPercent:    cfg.HostProbe.CPUDegradedPercent,
			MemoryDegradedPercent: cfg.HostProbe.MemoryDegradedPercent,
		})
	}

	return d
}

// thresholds converts configured thresholds to the aggregator's form.
// Validate guarantees exactly one of Above and Below is set.
func thresholds(configured []config.ThresholdConfig) []aggregator.Threshold {
	converted := make([]aggregator.Threshold, 0, len(configured))
	for _, threshold := range configured {
		entry := aggregator.Threshold{Subsystem: threshold.Subsystem, Metric: threshold.Metric}
		if threshold.Above != nil {
			entry.Limit = *threshold.Above
		} else {
			entry.Limit = *threshold.Below
			entry.Below = true
		}
		converted = append(converted, entry)
	}
	return converted
}

// fail records an invariant violation. run returns it and the process
// exits non-zero.
func (d *daemon) fail(err error) {
	select {
	case d.failures <- err:
	default:
	}
}

// run starts every component and blocks until ctx is cancelled or an
// invariant violation stops the daemon.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("hub", d.hub.Run)
	start("staleness monitor", d.monitor.Run)
	if d.probe != nil {
		start("host probe", d.probe.Run)
	}

	var httpServer *service.HTTPServer
	if d.config.Listen.HTTP != "" {
		httpServer = service.NewHTTPServer(service.HTTPServerConfig{
			Address: d.config.Listen.HTTP,
			Handler: d.httpHandler(),
			Logger:  d.logger.With("component", "http"),
		})
		start("http server", httpServer.Serve)
	}
	if d.config.Listen.Socket != "" {
		if err := os.MkdirAll(filepath.Dir(d.config.Listen.Socket), 0755); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("creating socket directory: %w", err)
		}
		socketServer := service.NewSocketServer(d.config.Listen.Socket, d.logger.With("component", "socket"))
		d.registerActions(socketServer)
		start("socket server", socketServer.Serve)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.markReady(ctx, httpServer)
	}()

	var result error
	select {
	case <-ctx.Done():
		d.logger.Info("shutting down")
	case err := <-d.failures:
		d.logger.Error("stopping after invariant violation", "error", err)
		result = &invariantError{err}
	case err := <-errs:
		d.logger.Error("component failed", "error", err)
		result = err
	}

	d.ready.Store(false)
	cancel()
	wg.Wait()
	d.ready.Store(false)
	return result
}

// markReady flips the readiness flag once the HTTP listener is bound.
// The socket server binds synchronously in Serve and is not awaited.
func (d *daemon) markReady(ctx context.Context, httpServer *service.HTTPServer) {
	if httpServer != nil {
		select {
		case <-httpServer.Ready():
		case <-ctx.Done():
			return
		}
	}
	d.ready.Store(true)
	d.logger.Info("statusd ready")
}
