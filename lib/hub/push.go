// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/clock"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// maxDeliveryBackoff caps the doubling retry wait.
const maxDeliveryBackoff = 30 * time.Second

// runWorker delivers snapshots to one push subscriber until its
// context is cancelled or delivery fails for good.
func (h *Hub) runWorker(ctx context.Context, sub *subscriber) {
	defer h.workers.Done()

	// heartbeats stays nil, and so never ready, when disabled.
	var heartbeat *clock.Ticker
	var heartbeats <-chan time.Time
	if h.heartbeatPeriod > 0 {
		heartbeat = h.clock.NewTicker(h.heartbeatPeriod)
		defer heartbeat.Stop()
		heartbeats = heartbeat.C
	}

	var delivered *status.Snapshot
	pending := true
	for {
		if pending {
			pending = false
			current := h.store.Read()
			if delivered == nil || current.Generation != delivered.Generation {
				if !h.deliver(ctx, sub, h.buildFrame(sub, delivered, current)) {
					return
				}
				delivered = current
				sub.lastDelivered.Store(current.Generation)
				if heartbeat != nil {
					heartbeat.Reset(h.heartbeatPeriod)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-sub.wake:
			pending = true
		case <-heartbeats:
			frame := status.Frame{
				Type:       status.FrameHeartbeat,
				Generation: sub.lastDelivered.Load(),
				SentAt:     h.clock.Now().UTC(),
			}
			if !h.deliver(ctx, sub, frame) {
				return
			}
		}
	}
}

// buildFrame returns a full snapshot frame for a subscriber that has
// received nothing yet or wants full frames, and a diff otherwise.
func (h *Hub) buildFrame(sub *subscriber, delivered, current *status.Snapshot) status.Frame {
	frame := status.Frame{
		Generation: current.Generation,
		SentAt:     h.clock.Now().UTC(),
	}
	if delivered == nil || sub.pushMode == PushFull {
		frame.Type = status.FrameSnapshot
		frame.Snapshot = current
		return frame
	}
	delta := status.Diff(delivered, current)
	frame.Type = status.FrameDiff
	frame.Delta = &delta
	return frame
}

// deliver sends frame with retries. On success the subscriber is
// acknowledged. On final failure the subscription is dropped and
// deliver returns false; it also returns false when ctx is cancelled.
func (h *Hub) deliver(ctx context.Context, sub *subscriber, frame status.Frame) bool {
	backoff := h.backoff
	var err error
	for attempt := 1; attempt <= h.attempts; attempt++ {
		err = sub.sink.Deliver(ctx, frame)
		if err == nil {
			h.framesDelivered.Add(1)
			sub.acknowledge(h.clock.Now())
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		h.deliveryFailures.Add(1)
		h.logger.Warn("push delivery failed",
			"client_id", sub.id,
			"frame", frame.Type,
			"generation", frame.Generation,
			"attempt", attempt,
			"max_attempts", h.attempts,
			"error", err,
		)
		if attempt == h.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-h.clock.After(backoff):
		}
		backoff = min(backoff*2, maxDeliveryBackoff)
	}

	if h.remove(sub) {
		h.dropped.Add(1)
		h.logger.Warn("subscription dropped",
			"client_id", sub.id,
			"error", fmt.Errorf("delivery failed after %d attempts: %w", h.attempts, err),
		)
	}
	sub.stop()
	return false
}
