// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/NaTo1000/infinite-server26/lib/codec"
	"github.com/NaTo1000/infinite-server26/lib/hub"
	"github.com/NaTo1000/infinite-server26/lib/ingest"
	"github.com/NaTo1000/infinite-server26/lib/pushsink"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
	"github.com/NaTo1000/infinite-server26/lib/service"
	"github.com/NaTo1000/infinite-server26/lib/version"
)

// registerActions registers the socket actions statusctl uses.
func (d *daemon) registerActions(server *service.SocketServer) {
	server.Handle("submit", d.handleSubmit)
	server.Handle("snapshot", d.handleSnapshot)
	server.Handle("subscribe", d.handleSubscribe)
	server.Handle("unsubscribe", d.handleUnsubscribe)
	server.Handle("poll", d.handlePoll)
	server.Handle("activity", d.handleActivity)
	server.Handle("status", d.handleStatus)

	// Live push subscription. Frames follow the acknowledgment until
	// the client hangs up or the subscription is dropped.
	server.HandleStream("watch", d.handleWatch)
}

// clientRequest carries the client_id field shared by the
// subscription actions.
type clientRequest struct {
	ClientID string   `cbor:"client_id"`
	Mode     hub.Mode `cbor:"mode"`
}

func decodeClientRequest(raw []byte) (clientRequest, error) {
	var request clientRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid request: %w", err)
	}
	return request, nil
}

// handleSubmit accepts a report. The request's fields are the report's
// fields alongside "action".
func (d *daemon) handleSubmit(_ context.Context, raw []byte) (any, error) {
	var report status.Report
	if err := codec.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("invalid report: %w", err)
	}
	accepted, err := d.ingest.Submit(report)
	if err != nil {
		var reject *ingest.RejectError
		if errors.As(err, &reject) {
			return nil, reject
		}
		return nil, fmt.Errorf("internal: %w", err)
	}
	return accepted, nil
}

func (d *daemon) handleSnapshot(context.Context, []byte) (any, error) {
	return d.store.Read(), nil
}

func (d *daemon) handleSubscribe(_ context.Context, raw []byte) (any, error) {
	request, err := decodeClientRequest(raw)
	if err != nil {
		return nil, err
	}
	if request.Mode != "" && request.Mode != hub.ModePoll {
		return nil, errors.New("socket subscriptions are poll only; use the watch action for push")
	}
	if request.ClientID == "" {
		request.ClientID = uuid.NewString()
	}
	return d.hub.Subscribe(request.ClientID, hub.SubscribeOptions{Mode: hub.ModePoll})
}

// unsubscribeResponse reports whether a subscription existed.
type unsubscribeResponse struct {
	Removed bool `cbor:"removed"`
}

func (d *daemon) handleUnsubscribe(_ context.Context, raw []byte) (any, error) {
	request, err := decodeClientRequest(raw)
	if err != nil {
		return nil, err
	}
	return unsubscribeResponse{Removed: d.hub.Unsubscribe(request.ClientID)}, nil
}

func (d *daemon) handlePoll(_ context.Context, raw []byte) (any, error) {
	request, err := decodeClientRequest(raw)
	if err != nil {
		return nil, err
	}
	if request.ClientID == "" {
		return nil, hub.ErrClientIDRequired
	}
	return d.hub.Poll(request.ClientID)
}

func (d *daemon) handleActivity(_ context.Context, raw []byte) (any, error) {
	var request struct {
		Limit *int `cbor:"limit"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	limit := defaultActivityLimit
	if request.Limit != nil {
		if *request.Limit < 0 {
			return nil, errors.New("limit must be non-negative")
		}
		limit = *request.Limit
	}
	return d.activity(limit), nil
}

// statusResponse summarizes the daemon for the "status" action and
// GET /api/v1/status.
type statusResponse struct {
	Build         version.Build  `json:"build"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Ready         bool           `json:"ready"`
	Posture       status.Posture `json:"posture"`
	Label         string         `json:"label"`
	Generation    uint64         `json:"generation"`
	Subsystems    int            `json:"subsystems"`
	Ingest        ingest.Stats   `json:"ingest"`
	Hub           hub.Stats      `json:"hub"`
	Activity      struct {
		Retained int    `json:"retained"`
		Capacity int    `json:"capacity"`
		Evicted  uint64 `json:"evicted"`
	} `json:"activity"`
}

func (d *daemon) status() statusResponse {
	snapshot := d.store.Read()
	response := statusResponse{
		Build:         version.Current(),
		UptimeSeconds: d.clock.Now().Sub(d.startedAt).Seconds(),
		Ready:         d.ready.Load(),
		Posture:       snapshot.Posture,
		Label:         snapshot.Posture.Label(),
		Generation:    snapshot.Generation,
		Subsystems:    len(snapshot.Subsystems),
		Ingest:        d.ingest.Stats(),
		Hub:           d.hub.Stats(),
	}
	response.Activity.Retained, response.Activity.Capacity, response.Activity.Evicted = d.store.ActivityStats()
	return response
}

func (d *daemon) handleStatus(context.Context, []byte) (any, error) {
	return d.status(), nil
}

// watchRequest is the "watch" stream request.
type watchRequest struct {
	ClientID    string `cbor:"client_id"`
	Mode        string `cbor:"mode"`
	Compression string `cbor:"compression"`
}

// handleWatch opens a push subscription on the socket connection.
func (d *daemon) handleWatch(_ context.Context, raw []byte) (service.StreamBody, error) {
	var request watchRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	pushMode := hub.PushMode(request.Mode)
	if pushMode != "" && !pushMode.IsKnown() {
		return nil, fmt.Errorf("mode must be diff or full, got %q", request.Mode)
	}
	compression, err := codec.ParseCompression(request.Compression)
	if err != nil {
		return nil, err
	}
	clientID := request.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	return func(ctx context.Context, conn net.Conn) error {
		sink := pushsink.NewStream(conn, pushsink.Options{Compression: compression})
		if _, err := d.hub.Subscribe(clientID, hub.SubscribeOptions{
			Mode:     hub.ModePush,
			Sink:     sink,
			PushMode: pushMode,
		}); err != nil {
			sink.Close()
			return err
		}
		d.logger.Info("stream subscriber connected", "client_id", clientID, "compression", compression)

		select {
		case <-ctx.Done():
		case <-sink.Done():
		}
		d.hub.Release(clientID, sink)
		d.logger.Info("stream subscriber disconnected", "client_id", clientID)
		return nil
	}, nil
}
