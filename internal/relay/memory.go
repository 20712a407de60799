package relay

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSubscribeFailed is returned by Hub.Subscribe while FailNext is armed.
var ErrSubscribeFailed = errors.New("relay: subscribe failed")

// Hub is an in-process Publisher and Subscriber. Publishing never blocks; an
// event is dropped for a subscriber whose buffer is full.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[*hubSub]struct{}
	failNext int
	opened   int
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSub]struct{})}
}

func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.EncounterID == "" {
		return errors.New("relay event: encounter id required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ev.EncounterID] {
		select {
		case sub.events <- ev:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, encounterID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failNext > 0 {
		h.failNext--
		return nil, ErrSubscribeFailed
	}
	sub := &hubSub{hub: h, encounterID: encounterID, events: make(chan Event, 16)}
	if h.subs[encounterID] == nil {
		h.subs[encounterID] = make(map[*hubSub]struct{})
	}
	h.subs[encounterID][sub] = struct{}{}
	h.opened++
	return sub, nil
}

// Drop closes every subscription for the encounter, as a lost connection
// would.
func (h *Hub) Drop(encounterID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[encounterID] {
		sub.closeLocked()
	}
}

// FailNext makes the next n Subscribe calls fail.
func (h *Hub) FailNext(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failNext = n
}

// Subscribers is the number of open subscriptions for the encounter.
func (h *Hub) Subscribers(encounterID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[encounterID])
}

// Opened counts successful Subscribe calls over the hub's lifetime.
func (h *Hub) Opened() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened
}

type hubSub struct {
	hub         *Hub
	encounterID string
	events      chan Event
	closed      bool
}

func (s *hubSub) Events() <-chan Event { return s.events }

func (s *hubSub) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *hubSub) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.hub.subs[s.encounterID], s)
	close(s.events)
}

var (
	_ Publisher  = (*Hub)(nil)
	_ Subscriber = (*Hub)(nil)
	_ Publisher  = (*Redis)(nil)
	_ Subscriber = (*Redis)(nil)
)
