// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NaTo1000/infinite-server26/lib/codec"
	"github.com/NaTo1000/infinite-server26/lib/pushsink"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
	"github.com/NaTo1000/infinite-server26/lib/testutil"
)

// dialWebSocket opens /api/v1/ws with the given query.
func dialWebSocket(t *testing.T, serverURL string, query url.Values) *websocket.Conn {
	t.Helper()
	target := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/v1/ws?" + query.Encode()
	conn, response, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", target, err)
	}
	response.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads and decodes one frame.
func readFrame(t *testing.T, conn *websocket.Conn, format codec.Format, compression codec.Compression) status.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	frame, err := pushsink.DecodeFrame(format, compression, data)
	if err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	return frame
}

// waitReleased waits until clientID has no subscription.
func waitReleased(t *testing.T, d *daemon, clientID string) {
	t.Helper()
	testutil.Eventually(t, waitTimeout, func() bool {
		_, ok := d.hub.Lookup(clientID)
		return !ok
	}, "subscription %s still present", clientID)
}

func TestWebSocketDiffStream(t *testing.T) {
	d, _ := newTestDaemon(t, nil)
	server := serveHTTP(t, d)

	if _, err := d.ingest.Submit(report(status.ThreatHuntress, 1, status.StatusOnline)); err != nil {
		t.Fatalf("seed submit: %v", err)
	}

	conn := dialWebSocket(t, server.URL, url.Values{"client_id": {"browser"}})
	first := readFrame(t, conn, codec.FormatJSON, codec.CompressionNone)
	if first.Type != status.FrameSnapshot || first.Snapshot == nil {
		t.Fatalf("first frame = %s, want snapshot", first.Type)
	}
	if first.Generation != 1 {
		t.Errorf("first frame generation = %d, want 1", first.Generation)
	}

	if _, err := d.ingest.Submit(report(status.ThreatHuntress, 2, status.StatusDegraded)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	next := readFrame(t, conn, codec.FormatJSON, codec.CompressionNone)
	if next.Type != status.FrameDiff || next.Delta == nil {
		t.Fatalf("second frame = %s, want diff", next.Type)
	}
	applied, err := next.Delta.Apply(first.Snapshot)
	if err != nil {
		t.Fatalf("applying delta: %v", err)
	}
	if applied.Digest != d.store.Read().Digest {
		t.Error("reconstructed snapshot differs from the store")
	}
	if applied.Subsystems[status.ThreatHuntress].Status != status.StatusDegraded {
		t.Errorf("threat-huntress = %s, want degraded", applied.Subsystems[status.ThreatHuntress].Status)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitReleased(t, d, "browser")
}

func TestWebSocketFullModeCompressed(t *testing.T) {
	d, _ := newTestDaemon(t, nil)
	server := serveHTTP(t, d)

	conn := dialWebSocket(t, server.URL, url.Values{
		"client_id":   {"panel"},
		"mode":        {"full"},
		"format":      {"cbor"},
		"compression": {"zstd"},
	})
	first := readFrame(t, conn, codec.FormatCBOR, codec.CompressionZstd)
	if first.Type != status.FrameSnapshot || first.Generation != 0 {
		t.Fatalf("first frame = %s at %d, want snapshot at 0", first.Type, first.Generation)
	}

	if _, err := d.ingest.Submit(report(status.Ledger, 1, status.StatusOnline)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	next := readFrame(t, conn, codec.FormatCBOR, codec.CompressionZstd)
	if next.Type != status.FrameSnapshot || next.Generation != 1 {
		t.Fatalf("second frame = %s at %d, want snapshot at 1", next.Type, next.Generation)
	}
	if next.Snapshot.Digest != status.ComputeDigest(next.Snapshot) {
		t.Error("delivered snapshot digest does not verify")
	}
}

func TestWebSocketReplacementSurvivesOldConnection(t *testing.T) {
	d, _ := newTestDaemon(t, nil)
	server := serveHTTP(t, d)

	old := dialWebSocket(t, server.URL, url.Values{"client_id": {"kiosk"}})
	readFrame(t, old, codec.FormatJSON, codec.CompressionNone)

	replacement := dialWebSocket(t, server.URL, url.Values{"client_id": {"kiosk"}})
	readFrame(t, replacement, codec.FormatJSON, codec.CompressionNone)

	old.Close()

	if _, err := d.ingest.Submit(report(status.Orchestrator, 1, status.StatusOnline)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	frame := readFrame(t, replacement, codec.FormatJSON, codec.CompressionNone)
	if frame.Generation != 1 {
		t.Errorf("replacement frame generation = %d, want 1", frame.Generation)
	}
	if _, ok := d.hub.Lookup("kiosk"); !ok {
		t.Error("replacement subscription released with the old connection")
	}
}

func TestWebSocketRejectsBadOptions(t *testing.T) {
	d, _ := newTestDaemon(t, nil)
	server := serveHTTP(t, d)

	for _, query := range []string{"mode=sometimes", "format=xml", "compression=gzip"} {
		response, err := http.Get(server.URL + "/api/v1/ws?" + query)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		response.Body.Close()
		if response.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, response.StatusCode)
		}
	}
}
