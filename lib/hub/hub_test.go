// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/aggregator"
	"github.com/NaTo1000/infinite-server26/lib/clock"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
	"github.com/NaTo1000/infinite-server26/lib/statestore"
	"github.com/NaTo1000/infinite-server26/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const waitTimeout = 5 * time.Second

type fixture struct {
	hub        *Hub
	aggregator *aggregator.Aggregator
	store      *statestore.Store
	clock      *clock.FakeClock
}

// newFixture wires a store, aggregator, and hub the way the daemon
// does. The hub dispatcher runs until the test ends.
func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := statestore.New(50)
	fake := clock.Fake(epoch)

	config.Store = store
	config.Clock = fake
	config.Logger = logger
	hub := New(config)

	agg := aggregator.New(aggregator.Config{
		Store:    store,
		Clock:    fake,
		Logger:   logger,
		Notifier: hub,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &fixture{hub: hub, aggregator: agg, store: store, clock: fake}
}

func (f *fixture) apply(t *testing.T, id status.SubsystemID, timestamp int64, state status.Status) *status.Snapshot {
	t.Helper()
	snapshot, err := f.aggregator.Apply(status.Report{Subsystem: id, Timestamp: timestamp, Status: state, Mode: "ACTIVE"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return snapshot
}

// fakeSink records delivered frames. Deliveries can be made to fail or
// to block until released.
type fakeSink struct {
	frames chan status.Frame

	mu       sync.Mutex
	failures int
	gate     chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		frames: make(chan status.Frame, 64),
		closed: make(chan struct{}),
	}
}

// failNext makes the next n deliveries fail.
func (s *fakeSink) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// hold makes deliveries block until the returned function is called.
func (s *fakeSink) hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	return func() { close(gate) }
}

func (s *fakeSink) Deliver(ctx context.Context, frame status.Frame) error {
	s.mu.Lock()
	gate := s.gate
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return errors.New("sink closed")
		}
	}
	if fail {
		return errors.New("connection reset by peer")
	}
	select {
	case s.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSink) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func TestPollNotModifiedUntilCommit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	if _, err := f.hub.Subscribe("dashboard", SubscribeOptions{Mode: ModePoll}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	f.apply(t, status.Orchestrator, 1, status.StatusOnline)

	first, err := f.hub.Poll("dashboard")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if first.NotModified || first.Snapshot == nil || first.Snapshot.Generation != 1 {
		t.Fatalf("first poll = %+v, want generation 1 snapshot", first)
	}

	for range 3 {
		again, err := f.hub.Poll("dashboard")
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if !again.NotModified || again.Snapshot != nil || again.Generation != 1 {
			t.Fatalf("poll before next commit = %+v, want NotModified at 1", again)
		}
	}

	f.apply(t, status.Orchestrator, 2, status.StatusDegraded)
	after, err := f.hub.Poll("dashboard")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if after.NotModified || after.Snapshot.Generation != 2 {
		t.Fatalf("poll after commit = %+v, want generation 2 snapshot", after)
	}

	sub, ok := f.hub.Lookup("dashboard")
	if !ok || sub.LastDeliveredGeneration != 2 {
		t.Errorf("subscription = %+v, want last delivered 2", sub)
	}
}

func TestPollUnknownClientIsNotAnError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	result, err := f.hub.Poll("ghost")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.Subscribed || !result.NotModified {
		t.Errorf("result = %+v, want unsubscribed NotModified", result)
	}
}

func TestPollOnPushSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	if _, err := f.hub.Subscribe("viewer", SubscribeOptions{Mode: ModePush, Sink: newFakeSink()}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := f.hub.Poll("viewer"); !errors.Is(err, ErrModeMismatch) {
		t.Errorf("Poll on push subscription: got %v, want ErrModeMismatch", err)
	}
}

func TestPollRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PollMinInterval: time.Second})
	if _, err := f.hub.Subscribe("mobile", SubscribeOptions{Mode: ModePoll}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	f.apply(t, status.Ledger, 1, status.StatusOnline)

	if result, _ := f.hub.Poll("mobile"); result.NotModified {
		t.Fatalf("first poll rate limited: %+v", result)
	}

	f.apply(t, status.Ledger, 2, status.StatusOnline)
	result, _ := f.hub.Poll("mobile")
	if !result.NotModified || !result.RateLimited {
		t.Fatalf("poll within interval = %+v, want rate-limited NotModified", result)
	}

	f.clock.Advance(time.Second)
	result, _ = f.hub.Poll("mobile")
	if result.NotModified || result.Snapshot.Generation != 2 {
		t.Fatalf("poll after interval = %+v, want generation 2", result)
	}
	if f.hub.Stats().RateLimitedPolls != 1 {
		t.Errorf("rate limited counter = %d, want 1", f.hub.Stats().RateLimitedPolls)
	}
}

func TestSubscribeValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	if _, err := f.hub.Subscribe("", SubscribeOptions{Mode: ModePoll}); !errors.Is(err, ErrClientIDRequired) {
		t.Errorf("empty client ID: got %v", err)
	}
	if _, err := f.hub.Subscribe("x", SubscribeOptions{Mode: ModePush}); !errors.Is(err, ErrSinkRequired) {
		t.Errorf("push without sink: got %v", err)
	}
	if _, err := f.hub.Subscribe("x", SubscribeOptions{Mode: "carrier-pigeon"}); err == nil {
		t.Error("unknown mode accepted")
	}
	if _, err := f.hub.Subscribe("x", SubscribeOptions{Mode: ModePush, Sink: newFakeSink(), PushMode: "partial"}); err == nil {
		t.Error("unknown push mode accepted")
	}
}

func TestSubscribeReplacesExisting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	first := newFakeSink()
	if _, err := f.hub.Subscribe("desktop", SubscribeOptions{Mode: ModePush, Sink: first}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	testutil.RequireReceive(t, first.frames, waitTimeout, "initial frame")

	sub, err := f.hub.Subscribe("desktop", SubscribeOptions{Mode: ModePoll})
	if err != nil {
		t.Fatalf("replacing Subscribe: %v", err)
	}
	if sub.Mode != ModePoll || sub.LastDeliveredGeneration != 0 {
		t.Errorf("replacement = %+v", sub)
	}
	testutil.RequireClosed(t, first.closed, waitTimeout, "replaced sink closed")

	stats := f.hub.Stats()
	if stats.PollSubscribers != 1 || stats.PushSubscribers != 0 {
		t.Errorf("stats after replace = %+v", stats)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	sink := newFakeSink()
	if _, err := f.hub.Subscribe("web", SubscribeOptions{Mode: ModePush, Sink: sink}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !f.hub.Unsubscribe("web") {
		t.Error("Unsubscribe of existing subscription returned false")
	}
	testutil.RequireClosed(t, sink.closed, waitTimeout, "sink closed on unsubscribe")
	if f.hub.Unsubscribe("web") {
		t.Error("second Unsubscribe returned true")
	}
	if _, ok := f.hub.Lookup("web"); ok {
		t.Error("subscription still present")
	}
}

func TestReleaseLeavesReplacement(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	old := newFakeSink()
	if _, err := f.hub.Subscribe("tablet", SubscribeOptions{Mode: ModePush, Sink: old}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	replacement := newFakeSink()
	if _, err := f.hub.Subscribe("tablet", SubscribeOptions{Mode: ModePush, Sink: replacement}); err != nil {
		t.Fatalf("replacing Subscribe: %v", err)
	}
	testutil.RequireClosed(t, old.closed, waitTimeout, "replaced sink closed")

	// The old connection's handler tears down after the replacement
	// arrived. The replacement must survive.
	if f.hub.Release("tablet", old) {
		t.Error("Release with a replaced sink returned true")
	}
	if _, ok := f.hub.Lookup("tablet"); !ok {
		t.Fatal("replacement subscription was removed")
	}

	if !f.hub.Release("tablet", replacement) {
		t.Error("Release with the current sink returned false")
	}
	testutil.RequireClosed(t, replacement.closed, waitTimeout, "released sink closed")
	if _, ok := f.hub.Lookup("tablet"); ok {
		t.Error("subscription still present after Release")
	}
}

func TestExpireIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Grace: 2 * time.Minute})
	for _, id := range []string{"stale-poller", "active-poller"} {
		if _, err := f.hub.Subscribe(id, SubscribeOptions{Mode: ModePoll}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	f.clock.Advance(90 * time.Second)
	if _, err := f.hub.Poll("active-poller"); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	f.clock.Advance(60 * time.Second)

	if removed := f.hub.ExpireIdle(f.clock.Now()); removed != 1 {
		t.Fatalf("ExpireIdle removed %d, want 1", removed)
	}
	if _, ok := f.hub.Lookup("stale-poller"); ok {
		t.Error("idle subscription survived")
	}
	if _, ok := f.hub.Lookup("active-poller"); !ok {
		t.Error("active subscription expired")
	}
	if result, _ := f.hub.Poll("stale-poller"); result.Subscribed {
		t.Error("expired client still subscribed")
	}
	if f.hub.Stats().Expired != 1 {
		t.Errorf("expired counter = %d", f.hub.Stats().Expired)
	}
}

func TestExpireIdleDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	if _, err := f.hub.Subscribe("forever", SubscribeOptions{Mode: ModePoll}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if removed := f.hub.ExpireIdle(f.clock.Now().Add(24 * time.Hour)); removed != 0 {
		t.Errorf("ExpireIdle with zero grace removed %d", removed)
	}
}

func TestSubscriptionsSorted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	for _, id := range []string{"c", "a", "b"} {
		if _, err := f.hub.Subscribe(id, SubscribeOptions{Mode: ModePoll}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	subs := f.hub.Subscriptions()
	if len(subs) != 3 || subs[0].ClientID != "a" || subs[2].ClientID != "c" {
		t.Errorf("Subscriptions = %+v", subs)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	sink := newFakeSink()
	if _, err := f.hub.Subscribe("tv", SubscribeOptions{Mode: ModePush, Sink: sink}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	f.hub.Close()
	testutil.RequireClosed(t, sink.closed, waitTimeout, "sink closed by hub Close")
	if _, err := f.hub.Subscribe("late", SubscribeOptions{Mode: ModePoll}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close: got %v, want ErrClosed", err)
	}
	f.hub.Close()
}
