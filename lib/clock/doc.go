// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every timed component in the
// status service: the staleness monitor's scan period, the hub's poll
// rate limiter, push delivery backoff and heartbeats, and the host
// probe's sample interval.
//
// Production wiring passes Real(). Tests pass Fake(start) and drive
// time explicitly:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	monitor := staleness.New(staleness.Config{Clock: fakeClock, ...})
//	go monitor.Run(ctx)
//	fakeClock.WaitForTimers(1)       // monitor has created its ticker
//	fakeClock.Advance(10 * time.Second)
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
