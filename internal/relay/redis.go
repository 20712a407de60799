package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis implements Publisher and Subscriber over Redis pub/sub. Idle
// subscriptions ping the server every heartbeat interval; each pong is
// surfaced as a KindHeartbeat event so consumers can detect a silent drop.
type Redis struct {
	client    redis.UniversalClient
	heartbeat time.Duration
	log       zerolog.Logger
}

// NewRedis wraps client. heartbeat defaults to 10s.
func NewRedis(client redis.UniversalClient, heartbeat time.Duration, log zerolog.Logger) *Redis {
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	return &Redis{client: client, heartbeat: heartbeat, log: log.With().Str("component", "relay").Logger()}
}

// Publish sends ev on the encounter's channel.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, Channel(ev.EncounterID), data).Err(); err != nil {
		return fmt.Errorf("publish relay event: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription with the server before returning.
func (r *Redis) Subscribe(ctx context.Context, encounterID string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, Channel(encounterID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(encounterID), err)
	}
	sub := &redisSub{
		ps:     ps,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go sub.loop(encounterID, r.heartbeat, r.log)
	return sub, nil
}

type redisSub struct {
	ps     *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *redisSub) Events() <-chan Event { return s.events }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSub) loop(encounterID string, heartbeat time.Duration, log zerolog.Logger) {
	defer close(s.events)
	ctx := context.Background()
	for {
		msg, err := s.ps.ReceiveTimeout(ctx, heartbeat)
		if err != nil {
			if isTimeout(err) {
				if err := s.ps.Ping(ctx); err != nil {
					log.Warn().Err(err).Str("encounter_id", encounterID).Msg("relay ping failed")
					return
				}
				continue
			}
			select {
			case <-s.done:
			default:
				log.Warn().Err(err).Str("encounter_id", encounterID).Msg("relay subscription lost")
			}
			return
		}
		var ev Event
		switch m := msg.(type) {
		case *redis.Message:
			ev, err = decode(m.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("dropping relay message")
				continue
			}
		case *redis.Pong:
			ev = Event{Kind: KindHeartbeat, EncounterID: encounterID, At: time.Now().UTC()}
		default:
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
