// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package status

import "time"

// FrameType distinguishes push frame payloads.
type FrameType string

const (
	// FrameSnapshot carries a full snapshot. Always the first frame a
	// push subscriber receives, and every frame for subscribers in
	// full mode.
	FrameSnapshot FrameType = "snapshot"

	// FrameDiff carries a Delta relative to the previously delivered
	// generation.
	FrameDiff FrameType = "diff"

	// FrameHeartbeat carries no payload. Sent when nothing has been
	// delivered for the heartbeat interval so idle connections can be
	// told apart from dead ones.
	FrameHeartbeat FrameType = "heartbeat"
)

// Frame is one message delivered to a push subscriber.
type Frame struct {
	Type FrameType `json:"type"`

	// Generation is the snapshot generation the subscriber holds
	// after processing this frame.
	Generation uint64 `json:"generation"`

	// Snapshot is set for FrameSnapshot.
	Snapshot *Snapshot `json:"snapshot,omitempty"`

	// Delta is set for FrameDiff.
	Delta *Delta `json:"delta,omitempty"`

	// SentAt is the service clock time the frame was built.
	SentAt time.Time `json:"sent_at"`
}
