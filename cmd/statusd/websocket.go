// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/NaTo1000/infinite-server26/lib/codec"
	"github.com/NaTo1000/infinite-server26/lib/hub"
	"github.com/NaTo1000/infinite-server26/lib/netutil"
	"github.com/NaTo1000/infinite-server26/lib/pushsink"
)

// pushOptions are the capabilities a push subscriber negotiates.
type pushOptions struct {
	clientID    string
	pushMode    hub.PushMode
	format      codec.Format
	compression codec.Compression
}

// parsePushOptions reads client_id, mode, format, and compression.
// A missing client_id gets a random one.
func parsePushOptions(query url.Values) (pushOptions, error) {
	options := pushOptions{
		clientID: query.Get("client_id"),
		pushMode: hub.PushMode(query.Get("mode")),
	}
	if options.clientID == "" {
		options.clientID = uuid.NewString()
	}
	if options.pushMode != "" && !options.pushMode.IsKnown() {
		return options, fmt.Errorf("mode must be diff or full, got %q", options.pushMode)
	}
	var err error
	if options.format, err = codec.ParseFormat(query.Get("format")); err != nil {
		return options, err
	}
	if options.compression, err = codec.ParseCompression(query.Get("compression")); err != nil {
		return options, err
	}
	return options, nil
}

// handleWebSocket upgrades the request and serves a push subscription
// on it until the client disconnects or the hub drops the subscription.
func (d *daemon) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	options, err := parsePushOptions(r.URL.Query())
	if err != nil {
		netutil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		d.logger.Debug("websocket upgrade failed", "client_id", options.clientID, "error", err)
		return
	}

	sink := pushsink.NewWebSocket(conn, pushsink.Options{
		Format:      options.format,
		Compression: options.compression,
	})
	if _, err := d.hub.Subscribe(options.clientID, hub.SubscribeOptions{
		Mode:     hub.ModePush,
		Sink:     sink,
		PushMode: options.pushMode,
	}); err != nil {
		d.logger.Warn("websocket subscribe failed", "client_id", options.clientID, "error", err)
		sink.Close()
		return
	}
	d.logger.Info("websocket subscriber connected",
		"client_id", options.clientID,
		"format", options.format,
		"compression", options.compression,
	)

	sink.ReadLoop()
	d.hub.Release(options.clientID, sink)
	d.logger.Info("websocket subscriber disconnected", "client_id", options.clientID)
}
