// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/NaTo1000/infinite-server26/lib/clock"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

var (
	// ErrModeMismatch is returned by Poll for a push subscription.
	ErrModeMismatch = errors.New("subscription is not in poll mode")

	// ErrSinkRequired is returned by Subscribe for a push subscription
	// without a Sink.
	ErrSinkRequired = errors.New("push subscription requires a sink")

	// ErrClientIDRequired is returned by Subscribe for an empty client ID.
	ErrClientIDRequired = errors.New("client ID is required")

	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("hub is closed")
)

// Mode is how a client receives snapshots.
type Mode string

const (
	ModePoll Mode = "poll"
	ModePush Mode = "push"
)

// IsKnown reports whether m is one of the defined Mode values.
func (m Mode) IsKnown() bool {
	return m == ModePoll || m == ModePush
}

// PushMode is what a push subscriber receives after its first frame.
type PushMode string

const (
	// PushDiff sends only the changed subsystem entries.
	PushDiff PushMode = "diff"

	// PushFull sends the full snapshot every time.
	PushFull PushMode = "full"
)

// IsKnown reports whether m is one of the defined PushMode values.
func (m PushMode) IsKnown() bool {
	return m == PushDiff || m == PushFull
}

// Sink is a push transport to one client. Deliver may block on the
// network; it must return when ctx is cancelled or Close is called.
// Close may be called concurrently with Deliver, and more than once.
type Sink interface {
	Deliver(ctx context.Context, frame status.Frame) error
	Close() error
}

// SnapshotReader supplies the current snapshot. *statestore.Store
// implements it.
type SnapshotReader interface {
	Read() *status.Snapshot
}

// Config configures a Hub.
type Config struct {
	Store  SnapshotReader
	Clock  clock.Clock
	Logger *slog.Logger

	// PollMinInterval is the minimum spacing between polls that are
	// actually evaluated. Zero disables poll rate limiting.
	PollMinInterval time.Duration

	// PushMode is the default for push subscribers that do not choose.
	// Empty means PushDiff.
	PushMode PushMode

	// Grace is how long a subscription may go without a successful
	// delivery or poll before ExpireIdle removes it. Zero disables
	// expiry.
	Grace time.Duration

	// DeliveryAttempts bounds delivery tries per frame. Values below
	// one are treated as one.
	DeliveryAttempts int

	// DeliveryBackoff is the wait after the first failed attempt,
	// doubled after each further failure.
	DeliveryBackoff time.Duration

	// HeartbeatInterval is how long a push worker stays silent before
	// sending a heartbeat frame. Zero disables heartbeats.
	HeartbeatInterval time.Duration
}

// SubscribeOptions describes a new subscription.
type SubscribeOptions struct {
	Mode Mode

	// Sink receives frames. Required for ModePush, ignored for ModePoll.
	Sink Sink

	// PushMode overrides the hub default. Ignored for ModePoll.
	PushMode PushMode
}

// Subscription is a read-only view of a client's subscription state.
type Subscription struct {
	ClientID                string    `json:"client_id"`
	Mode                    Mode      `json:"mode"`
	PushMode                PushMode  `json:"push_mode,omitempty"`
	LastDeliveredGeneration uint64    `json:"last_delivered_generation"`
	CreatedAt               time.Time `json:"created_at"`
	LastAcknowledged        time.Time `json:"last_acknowledged"`
}

// PollResult is the outcome of a Poll.
type PollResult struct {
	// Subscribed is false when the client has no subscription (never
	// subscribed, unsubscribed, or expired). NotModified is then true.
	Subscribed bool `json:"subscribed"`

	// NotModified is true when Snapshot is nil: the client already
	// holds the current generation, or polled too soon.
	NotModified bool `json:"not_modified"`

	// RateLimited is true when the poll was answered NotModified
	// without consulting the store.
	RateLimited bool `json:"rate_limited,omitempty"`

	Snapshot *status.Snapshot `json:"snapshot,omitempty"`

	// Generation is the last generation delivered to the client.
	Generation uint64 `json:"generation"`
}

// Stats are hub counters.
type Stats struct {
	PollSubscribers  int    `json:"poll_subscribers"`
	PushSubscribers  int    `json:"push_subscribers"`
	FramesDelivered  uint64 `json:"frames_delivered"`
	DeliveryFailures uint64 `json:"delivery_failures"`
	Dropped          uint64 `json:"dropped"`
	Expired          uint64 `json:"expired"`
	RateLimitedPolls uint64 `json:"rate_limited_polls"`
}

// subscriber is the hub's state for one client.
type subscriber struct {
	id        string
	mode      Mode
	pushMode  PushMode
	createdAt time.Time

	lastDelivered atomic.Uint64
	// lastAck is UnixNano of the last successful delivery or poll.
	lastAck atomic.Int64

	// Poll only; guarded by Hub.mu.
	limiter *rate.Limiter

	// Push only.
	sink     Sink
	wake     chan struct{}
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// stop cancels the worker and closes the sink. Idempotent.
func (s *subscriber) stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.sink != nil {
			s.sink.Close()
		}
	})
}

func (s *subscriber) acknowledge(at time.Time) {
	s.lastAck.Store(at.UnixNano())
}

func (s *subscriber) view() Subscription {
	return Subscription{
		ClientID:                s.id,
		Mode:                    s.mode,
		PushMode:                s.pushMode,
		LastDeliveredGeneration: s.lastDelivered.Load(),
		CreatedAt:               s.createdAt,
		LastAcknowledged:        time.Unix(0, s.lastAck.Load()).UTC(),
	}
}

// Hub is the subscription registry and push dispatcher.
type Hub struct {
	store  SnapshotReader
	clock  clock.Clock
	logger *slog.Logger

	pollInterval    time.Duration
	pushMode        PushMode
	grace           time.Duration
	attempts        int
	backoff         time.Duration
	heartbeatPeriod time.Duration

	// wake has capacity 1: commits arriving while the dispatcher is
	// busy coalesce into one pass.
	wake chan struct{}

	baseContext context.Context
	cancelBase  context.CancelFunc
	workers     sync.WaitGroup
	closeOnce   sync.Once

	mu          sync.Mutex
	subscribers map[string]*subscriber
	closed      bool

	framesDelivered  atomic.Uint64
	deliveryFailures atomic.Uint64
	dropped          atomic.Uint64
	expired          atomic.Uint64
	rateLimited      atomic.Uint64
}

// New creates a Hub. Call Run to start push dispatch.
func New(config Config) *Hub {
	if config.Store == nil || config.Clock == nil || config.Logger == nil {
		panic("hub: Store, Clock, and Logger are required")
	}
	pushMode := config.PushMode
	if pushMode == "" {
		pushMode = PushDiff
	}
	attempts := max(config.DeliveryAttempts, 1)
	baseContext, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:           config.Store,
		clock:           config.Clock,
		logger:          config.Logger,
		pollInterval:    config.PollMinInterval,
		pushMode:        pushMode,
		grace:           config.Grace,
		attempts:        attempts,
		backoff:         config.DeliveryBackoff,
		heartbeatPeriod: config.HeartbeatInterval,
		wake:            make(chan struct{}, 1),
		baseContext:     baseContext,
		cancelBase:      cancel,
		subscribers:     make(map[string]*subscriber),
	}
}

// Notify signals that generation has been committed. Never blocks.
func (h *Hub) Notify(generation uint64) {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run dispatches commit notifications to push workers until ctx is
// cancelled, then closes the hub.
func (h *Hub) Run(ctx context.Context) error {
	defer h.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.wake:
			h.wakeWorkers()
		}
	}
}

func (h *Hub) wakeWorkers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subscribers {
		if sub.mode != ModePush {
			continue
		}
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// Subscribe creates a subscription for clientID, replacing any
// existing one. A replaced push subscription's worker is stopped and
// its sink closed. A push subscription's first frame is always a full
// snapshot.
func (h *Hub) Subscribe(clientID string, options SubscribeOptions) (Subscription, error) {
	if clientID == "" {
		return Subscription{}, ErrClientIDRequired
	}
	if !options.Mode.IsKnown() {
		return Subscription{}, fmt.Errorf("unknown subscription mode %q", options.Mode)
	}
	if options.Mode == ModePush && options.Sink == nil {
		return Subscription{}, ErrSinkRequired
	}
	if options.PushMode != "" && !options.PushMode.IsKnown() {
		return Subscription{}, fmt.Errorf("unknown push mode %q", options.PushMode)
	}

	now := h.clock.Now().UTC()
	sub := &subscriber{
		id:        clientID,
		mode:      options.Mode,
		createdAt: now,
	}
	sub.acknowledge(now)

	switch options.Mode {
	case ModePoll:
		if h.pollInterval > 0 {
			sub.limiter = rate.NewLimiter(rate.Every(h.pollInterval), 1)
		}
	case ModePush:
		sub.pushMode = options.PushMode
		if sub.pushMode == "" {
			sub.pushMode = h.pushMode
		}
		sub.sink = options.Sink
		sub.wake = make(chan struct{}, 1)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Subscription{}, ErrClosed
	}
	previous := h.subscribers[clientID]
	h.subscribers[clientID] = sub
	if sub.mode == ModePush {
		var workerContext context.Context
		workerContext, sub.cancel = context.WithCancel(h.baseContext)
		h.workers.Add(1)
		go h.runWorker(workerContext, sub)
	}
	h.mu.Unlock()

	if previous != nil {
		previous.stop()
		h.logger.Info("subscription replaced", "client_id", clientID, "mode", sub.mode)
	} else {
		h.logger.Info("subscription created", "client_id", clientID, "mode", sub.mode, "push_mode", sub.pushMode)
	}
	return sub.view(), nil
}

// Unsubscribe removes clientID's subscription. Unknown IDs are a no-op.
// Reports whether a subscription existed.
func (h *Hub) Unsubscribe(clientID string) bool {
	h.mu.Lock()
	sub, ok := h.subscribers[clientID]
	if ok {
		delete(h.subscribers, clientID)
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	sub.stop()
	h.logger.Info("subscription removed", "client_id", clientID)
	return true
}

// Release removes clientID's subscription only if it is still served
// by sink. A transport calls it when its connection ends, so a
// replacement subscription opened on a new connection survives the
// old connection's teardown.
func (h *Hub) Release(clientID string, sink Sink) bool {
	h.mu.Lock()
	sub, ok := h.subscribers[clientID]
	if ok && sub.sink == sink {
		delete(h.subscribers, clientID)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	sub.stop()
	h.logger.Info("subscription released", "client_id", clientID)
	return true
}

// Poll returns the current snapshot if it is newer than the one
// clientID last received. Polling without a subscription is not an
// error: the result has Subscribed false.
func (h *Hub) Poll(clientID string) (PollResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[clientID]
	if !ok {
		return PollResult{NotModified: true}, nil
	}
	if sub.mode != ModePoll {
		return PollResult{}, fmt.Errorf("%w: %s", ErrModeMismatch, clientID)
	}

	now := h.clock.Now()
	sub.acknowledge(now)
	result := PollResult{Subscribed: true, Generation: sub.lastDelivered.Load()}

	if sub.limiter != nil && !sub.limiter.AllowN(now, 1) {
		h.rateLimited.Add(1)
		result.NotModified = true
		result.RateLimited = true
		return result, nil
	}

	current := h.store.Read()
	if current.Generation == result.Generation {
		result.NotModified = true
		return result, nil
	}
	sub.lastDelivered.Store(current.Generation)
	result.Snapshot = current
	result.Generation = current.Generation
	return result, nil
}

// ExpireIdle removes every subscription whose last successful delivery
// or poll is older than the grace period at now. Returns the number
// removed.
func (h *Hub) ExpireIdle(now time.Time) int {
	if h.grace <= 0 {
		return 0
	}
	cutoff := now.Add(-h.grace).UnixNano()

	h.mu.Lock()
	var idle []*subscriber
	for id, sub := range h.subscribers {
		if sub.lastAck.Load() < cutoff {
			idle = append(idle, sub)
			delete(h.subscribers, id)
		}
	}
	h.mu.Unlock()

	for _, sub := range idle {
		sub.stop()
		h.expired.Add(1)
		h.logger.Info("subscription expired",
			"client_id", sub.id,
			"mode", sub.mode,
			"idle", now.Sub(time.Unix(0, sub.lastAck.Load())),
		)
	}
	return len(idle)
}

// Subscriptions returns every current subscription sorted by client ID.
func (h *Hub) Subscriptions() []Subscription {
	h.mu.Lock()
	views := make([]Subscription, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		views = append(views, sub.view())
	}
	h.mu.Unlock()
	slices.SortFunc(views, func(a, b Subscription) int { return cmp.Compare(a.ClientID, b.ClientID) })
	return views
}

// Lookup returns clientID's subscription, if any.
func (h *Hub) Lookup(clientID string) (Subscription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subscribers[clientID]
	if !ok {
		return Subscription{}, false
	}
	return sub.view(), true
}

// Stats returns the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	var poll, push int
	for _, sub := range h.subscribers {
		if sub.mode == ModePush {
			push++
		} else {
			poll++
		}
	}
	h.mu.Unlock()
	return Stats{
		PollSubscribers:  poll,
		PushSubscribers:  push,
		FramesDelivered:  h.framesDelivered.Load(),
		DeliveryFailures: h.deliveryFailures.Load(),
		Dropped:          h.dropped.Load(),
		Expired:          h.expired.Load(),
		RateLimitedPolls: h.rateLimited.Load(),
	}
}

// Close stops every push worker, closes every sink, and removes every
// subscription. Blocks until the workers have exited. Idempotent.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		subscribers := h.subscribers
		h.subscribers = make(map[string]*subscriber)
		h.mu.Unlock()

		h.cancelBase()
		for _, sub := range subscribers {
			sub.stop()
		}
		h.workers.Wait()
	})
}

// remove deletes sub if it is still the registered subscription for
// its client ID. A replacement registered since is left alone.
func (h *Hub) remove(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[sub.id] != sub {
		return false
	}
	delete(h.subscribers, sub.id)
	return true
}
