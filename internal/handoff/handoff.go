// Package handoff pairs a phone with a desktop encounter through a
// time-boxed QR session and pulls relayed images into the session store.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/dharsanguruparan/ChartSnap/internal/capabilities"
	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/intake"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/relay"
)

// State is the connection state shown next to the QR code.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateLive         State = "live"
	StateReconnecting State = "reconnecting"
	StateStale        State = "stale"
)

var (
	ErrHandoffDisabled = errors.New("mobile handoff is disabled")
	ErrNoSession       = errors.New("no mobile session has been initiated")
	// ErrStale means reconnect attempts were exhausted. The UI should offer a
	// manual refresh; images already merged are kept.
	ErrStale = errors.New("mobile relay connection is stale")

	errConnectionLost   = errors.New("relay connection lost")
	errHeartbeatTimeout = errors.New("relay heartbeat timed out")
)

const defaultTTL = 600 * time.Second

// Options tune the live channel.
type Options struct {
	HeartbeatTimeout time.Duration
	MaxReconnects    uint64
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	QRSize           int
	Now              func() time.Time
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		HeartbeatTimeout: 30 * time.Second,
		MaxReconnects:    5,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       15 * time.Second,
		QRSize:           256,
		Now:              time.Now,
	}
}

// Channel owns one encounter's mobile pairing. Initiate and Regenerate
// replace the session; Run keeps the relay subscription alive.
type Channel struct {
	client     clinical.Client
	caps       *capabilities.Cache
	subscriber relay.Subscriber
	intake     *intake.Intake
	opts       Options
	log        zerolog.Logger
	validate   *validator.Validate

	mu      sync.Mutex
	req     *clinical.InitiateRequest
	session *model.MobileSession
	state   State
	lastErr error
}

// New constructs a Channel. Zero option fields take defaults.
func New(client clinical.Client, caps *capabilities.Cache, subscriber relay.Subscriber, in *intake.Intake, opts Options, log zerolog.Logger) *Channel {
	def := DefaultOptions()
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = def.MaxReconnects
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	if opts.QRSize <= 0 {
		opts.QRSize = def.QRSize
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Channel{
		client:     client,
		caps:       caps,
		subscriber: subscriber,
		intake:     in,
		opts:       opts,
		log:        log.With().Str("component", "handoff").Logger(),
		validate:   validator.New(),
		state:      StateIdle,
	}
}

// Initiate requests a new pairing and replaces any previous session.
func (c *Channel) Initiate(ctx context.Context, req clinical.InitiateRequest) (model.MobileSession, error) {
	if err := c.validate.Struct(req); err != nil {
		return model.MobileSession{}, fmt.Errorf("initiate mobile session: %w", err)
	}
	caps, err := c.caps.Get(ctx)
	if err != nil {
		return model.MobileSession{}, err
	}
	if !caps.Features.MobileHandoff {
		return model.MobileSession{}, ErrHandoffDisabled
	}
	resp, err := c.client.InitiateMobileSession(ctx, req)
	if err != nil {
		return model.MobileSession{}, fmt.Errorf("initiate mobile session: %w", err)
	}
	qr := resp.QRRenderable
	if qr == "" {
		png, err := qrcode.Encode(resp.MobileUploadURL, qrcode.Medium, c.opts.QRSize)
		if err != nil {
			return model.MobileSession{}, fmt.Errorf("render qr code: %w", err)
		}
		qr = compress.DataURL("image/png", png)
	}
	ttl := time.Duration(resp.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	sess := model.MobileSession{
		Token:       resp.Token,
		EncounterID: req.EncounterID,
		UploadURL:   resp.MobileUploadURL,
		QR:          qr,
		IssuedAt:    c.opts.Now(),
		TTL:         ttl,
	}
	c.mu.Lock()
	r := req
	c.req = &r
	c.session = &sess
	c.mu.Unlock()
	c.log.Info().Str("encounter_id", req.EncounterID).Dur("ttl", ttl).Msg("mobile session issued")
	return sess, nil
}

// Regenerate issues a fresh session for the last request. Images already
// merged stay in the store.
func (c *Channel) Regenerate(ctx context.Context) (model.MobileSession, error) {
	c.mu.Lock()
	req := c.req
	c.mu.Unlock()
	if req == nil {
		return model.MobileSession{}, ErrNoSession
	}
	return c.Initiate(ctx, *req)
}

// Session returns the current session.
func (c *Channel) Session() (model.MobileSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return model.MobileSession{}, false
	}
	return *c.session, true
}

// Expired reports whether the QR code must be regenerated. No session counts
// as expired.
func (c *Channel) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == nil || c.session.Expired(c.opts.Now())
}

// Remaining is the countdown shown under the QR code.
func (c *Channel) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.session.Remaining(c.opts.Now())
}

// State returns the connection state and the last connection error.
func (c *Channel) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

func (c *Channel) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Channel) encounterID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.req == nil {
		return "", ErrNoSession
	}
	return c.req.EncounterID, nil
}

// Sync pulls the full relayed image listing and merges it. Replays are
// harmless because the merge de-duplicates by image id.
func (c *Channel) Sync(ctx context.Context) ([]string, error) {
	id, err := c.encounterID()
	if err != nil {
		return nil, err
	}
	imgs, err := c.client.MobileImages(ctx, id, true)
	if err != nil {
		return nil, fmt.Errorf("list mobile images: %w", err)
	}
	return c.intake.AddMobile(imgs)
}
