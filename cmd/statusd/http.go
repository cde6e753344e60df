// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/NaTo1000/infinite-server26/lib/hub"
	"github.com/NaTo1000/infinite-server26/lib/ingest"
	"github.com/NaTo1000/infinite-server26/lib/netutil"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// defaultActivityLimit is the number of activity entries returned when
// the client does not ask for a count.
const defaultActivityLimit = 50

// generationHeader carries the snapshot generation on poll and
// snapshot responses, including 304s.
const generationHeader = "X-Status-Generation"

func (d *daemon) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/reports", d.handleSubmitHTTP)
	mux.HandleFunc("GET /api/v1/snapshot", d.handleSnapshotHTTP)
	mux.HandleFunc("GET /api/v1/subscriptions", d.handleListSubscriptionsHTTP)
	mux.HandleFunc("POST /api/v1/subscriptions", d.handleSubscribeHTTP)
	mux.HandleFunc("DELETE /api/v1/subscriptions/{id}", d.handleUnsubscribeHTTP)
	mux.HandleFunc("GET /api/v1/poll", d.handlePollHTTP)
	mux.HandleFunc("GET /api/v1/activity", d.handleActivityHTTP)
	mux.HandleFunc("GET /api/v1/status", d.handleStatusHTTP)
	mux.HandleFunc("GET /api/v1/ws", d.handleWebSocket)
	mux.HandleFunc("GET /healthz", d.handleHealthz)
	mux.HandleFunc("GET /readyz", d.handleReadyz)
	mux.HandleFunc("GET /livez", d.handleLivez)
	// Unsuffixed aliases used by container health checks.
	mux.HandleFunc("GET /health", d.handleHealthz)
	mux.HandleFunc("GET /ready", d.handleReadyz)
	mux.HandleFunc("GET /live", d.handleLivez)
	return mux
}

// submitResponse is the body of an accepted report.
type submitResponse struct {
	Generation uint64 `json:"generation"`
}

func (d *daemon) handleSubmitHTTP(w http.ResponseWriter, r *http.Request) {
	var report status.Report
	if err := netutil.DecodeRequest(r.Body, &report); err != nil {
		netutil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	accepted, err := d.ingest.Submit(report)
	if err != nil {
		code, reason := rejectionStatus(err)
		netutil.WriteError(w, code, reason, err.Error())
		return
	}
	netutil.WriteJSON(w, http.StatusAccepted, submitResponse{Generation: accepted.Generation})
}

// rejectionStatus maps a Submit error to an HTTP status and reason.
func rejectionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrStaleReport):
		return http.StatusConflict, "stale_report"
	case errors.Is(err, ingest.ErrUnknownSubsystem):
		return http.StatusNotFound, "unknown_subsystem"
	case errors.Is(err, ingest.ErrInvalidMetric):
		return http.StatusUnprocessableEntity, "invalid_metric"
	case errors.Is(err, ingest.ErrInvalidStatus):
		return http.StatusUnprocessableEntity, "invalid_status"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (d *daemon) handleSnapshotHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := d.store.Read()
	etag := `"` + snapshot.Digest.String() + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set(generationHeader, strconv.FormatUint(snapshot.Generation, 10))
	w.Header().Set("Cache-Control", "no-cache")
	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	netutil.WriteJSON(w, http.StatusOK, snapshot)
}

// matchesETag reports whether an If-None-Match header names etag.
func matchesETag(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == etag || candidate == "*" || candidate == "W/"+etag {
			return true
		}
	}
	return false
}

// subscribeRequest is the body of POST /api/v1/subscriptions. Push
// subscriptions are opened on /api/v1/ws instead.
type subscribeRequest struct {
	ClientID string   `json:"client_id"`
	Mode     hub.Mode `json:"mode"`
}

func (d *daemon) handleSubscribeHTTP(w http.ResponseWriter, r *http.Request) {
	var request subscribeRequest
	if err := netutil.DecodeRequest(r.Body, &request); err != nil {
		netutil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if request.Mode == "" {
		request.Mode = hub.ModePoll
	}
	if request.Mode != hub.ModePoll {
		netutil.WriteError(w, http.StatusBadRequest, "invalid_mode", "HTTP subscriptions are poll only; open /api/v1/ws for push")
		return
	}
	if request.ClientID == "" {
		request.ClientID = uuid.NewString()
	}
	subscription, err := d.hub.Subscribe(request.ClientID, hub.SubscribeOptions{Mode: hub.ModePoll})
	if err != nil {
		netutil.WriteError(w, hubErrorStatus(err), "subscribe_failed", err.Error())
		return
	}
	netutil.WriteJSON(w, http.StatusCreated, subscription)
}

func (d *daemon) handleUnsubscribeHTTP(w http.ResponseWriter, r *http.Request) {
	d.hub.Unsubscribe(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// subscriptionsResponse lists active subscriptions.
type subscriptionsResponse struct {
	Subscriptions []hub.Subscription `json:"subscriptions"`
}

func (d *daemon) handleListSubscriptionsHTTP(w http.ResponseWriter, r *http.Request) {
	netutil.WriteJSON(w, http.StatusOK, subscriptionsResponse{Subscriptions: d.hub.Subscriptions()})
}

func (d *daemon) handlePollHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		netutil.WriteError(w, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	}
	result, err := d.hub.Poll(clientID)
	if err != nil {
		netutil.WriteError(w, hubErrorStatus(err), "mode_mismatch", err.Error())
		return
	}
	if !result.Subscribed {
		netutil.WriteError(w, http.StatusNotFound, "not_subscribed", "no poll subscription for "+clientID)
		return
	}
	w.Header().Set(generationHeader, strconv.FormatUint(result.Generation, 10))
	if result.RateLimited {
		w.Header().Set("Retry-After", "1")
	}
	if result.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	netutil.WriteJSON(w, http.StatusOK, result.Snapshot)
}

// hubErrorStatus maps hub errors to HTTP statuses.
func hubErrorStatus(err error) int {
	switch {
	case errors.Is(err, hub.ErrModeMismatch):
		return http.StatusConflict
	case errors.Is(err, hub.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, hub.ErrClientIDRequired), errors.Is(err, hub.ErrSinkRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// activityResponse is the body of GET /api/v1/activity and the socket
// "activity" action. Entries are most recent first.
type activityResponse struct {
	Entries  []status.ActivityEntry `json:"entries"`
	Retained int                    `json:"retained"`
	Capacity int                    `json:"capacity"`
	Evicted  uint64                 `json:"evicted"`
}

func (d *daemon) activity(limit int) activityResponse {
	retained, capacity, evicted := d.store.ActivityStats()
	entries := d.store.ReadActivityLog(limit)
	if entries == nil {
		entries = []status.ActivityEntry{}
	}
	return activityResponse{
		Entries:  entries,
		Retained: retained,
		Capacity: capacity,
		Evicted:  evicted,
	}
}

func (d *daemon) handleActivityHTTP(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			netutil.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	netutil.WriteJSON(w, http.StatusOK, d.activity(limit))
}

func (d *daemon) handleStatusHTTP(w http.ResponseWriter, r *http.Request) {
	netutil.WriteJSON(w, http.StatusOK, d.status())
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Posture    status.Posture `json:"posture"`
	Label      string         `json:"label"`
	Generation uint64         `json:"generation"`
	Ready      bool           `json:"ready"`
}

// handleHealthz reports the overall posture. It answers 503 when the
// posture is critical so load balancers and supervisors can act on it.
func (d *daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snapshot := d.store.Read()
	code := http.StatusOK
	if snapshot.Posture == status.PostureCritical {
		code = http.StatusServiceUnavailable
	}
	netutil.WriteJSON(w, code, healthResponse{
		Posture:    snapshot.Posture,
		Label:      snapshot.Posture.Label(),
		Generation: snapshot.Generation,
		Ready:      d.ready.Load(),
	})
}

func (d *daemon) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !d.ready.Load() {
		netutil.WriteError(w, http.StatusServiceUnavailable, "not_ready", "statusd is starting or shutting down")
		return
	}
	netutil.WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (d *daemon) handleLivez(w http.ResponseWriter, r *http.Request) {
	netutil.WriteJSON(w, http.StatusOK, map[string]bool{"alive": true})
}
