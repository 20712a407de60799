package handoff

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dharsanguruparan/ChartSnap/internal/relay"
)

// Run keeps a relay subscription open until ctx ends. Every (re)connect is
// followed by a full Sync so nothing published while disconnected is lost.
// When reconnect attempts are exhausted Run returns ErrStale.
func (c *Channel) Run(ctx context.Context) error {
	id, err := c.encounterID()
	if err != nil {
		return err
	}
	c.setState(StateConnecting, nil)
	for {
		sub, err := c.connect(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateIdle, nil)
				return ctx.Err()
			}
			c.setState(StateStale, err)
			c.log.Error().Err(err).Str("encounter_id", id).Msg("relay reconnects exhausted")
			return ErrStale
		}
		c.setState(StateLive, nil)
		if _, err := c.Sync(ctx); err != nil {
			c.log.Warn().Err(err).Str("encounter_id", id).Msg("mobile sync failed")
		}
		err = c.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			c.setState(StateIdle, nil)
			return ctx.Err()
		}
		c.setState(StateReconnecting, err)
		c.log.Warn().Err(err).Str("encounter_id", id).Msg("relay disconnected")
	}
}

func (c *Channel) connect(ctx context.Context, encounterID string) (relay.Subscription, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxReconnects), ctx)

	var sub relay.Subscription
	err := backoff.RetryNotify(func() error {
		s, err := c.subscriber.Subscribe(ctx, encounterID)
		if err != nil {
			return err
		}
		sub = s
		return nil
	}, policy, func(err error, wait time.Duration) {
		c.setState(StateReconnecting, err)
		c.log.Debug().Err(err).Dur("wait", wait).Msg("relay subscribe retry")
	})
	return sub, err
}

func (c *Channel) consume(ctx context.Context, sub relay.Subscription) error {
	timer := time.NewTimer(c.opts.HeartbeatTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errHeartbeatTimeout
		case ev, ok := <-sub.Events():
			if !ok {
				return errConnectionLost
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.opts.HeartbeatTimeout)
			if ev.Kind != relay.KindImages {
				continue
			}
			if _, err := c.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Warn().Err(err).Msg("mobile sync failed")
			}
		}
	}
}
