// Package relay carries "new mobile images" notifications from the relay
// service to desktop sessions. Events are invalidation signals only: a
// receiver re-reads the image listing instead of trusting event contents.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates events.
type Kind string

const (
	KindImages    Kind = "images.available"
	KindHeartbeat Kind = "heartbeat"
)

// Event is one relay notification.
type Event struct {
	Kind        Kind      `json:"kind"`
	EncounterID string    `json:"encounterId"`
	ImageID     string    `json:"imageId,omitempty"`
	At          time.Time `json:"at"`
}

// Subscription delivers events until Close or until the underlying
// connection is lost, at which point Events is closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Subscriber opens per-encounter subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, encounterID string) (Subscription, error)
}

// Publisher fans an event out to every subscriber of its encounter.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Channel is the pub/sub channel name for an encounter.
func Channel(encounterID string) string {
	return "chartsnap:mobile:" + encounterID
}

func encode(ev Event) ([]byte, error) {
	if ev.EncounterID == "" {
		return nil, fmt.Errorf("relay event: encounter id required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return json.Marshal(ev)
}

func decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decode relay event: %w", err)
	}
	if ev.Kind == "" {
		ev.Kind = KindImages
	}
	return ev, nil
}
