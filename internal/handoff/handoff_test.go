package handoff

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ChartSnap/internal/capabilities"
	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/intake"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/relay"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
)

const enc = "enc-1"

var req = clinical.InitiateRequest{EncounterID: enc, PatientID: "pat-1", FacilityID: "fac-1"}

type fixture struct {
	ch    *Channel
	fake  *clinical.Fake
	hub   *relay.Hub
	store *session.Store
}

func newFixture(t *testing.T, caps model.Capabilities, opts Options) *fixture {
	t.Helper()
	store := session.New()
	fake := clinical.NewFake(caps)
	hub := relay.NewHub()
	cache := capabilities.Static(caps)
	in := intake.New(store, cache, compress.DefaultOptions(), zerolog.Nop())
	return &fixture{
		ch:    New(fake, cache, hub, in, opts, zerolog.Nop()),
		fake:  fake,
		hub:   hub,
		store: store,
	}
}

func mobileImage(id string) model.MobileImage {
	return model.MobileImage{
		ID:          id,
		EncounterID: enc,
		FileName:    id + ".jpg",
		ContentType: compress.ContentTypeJPEG,
		Data:        []byte{0xFF, 0xD8, 0xFF},
		UploadedAt:  time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
}

func fastOptions() Options {
	return Options{
		HeartbeatTimeout: time.Second,
		MaxReconnects:    3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
	}
}

func TestInitiate_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	opts := fastOptions()
	opts.Now = func() time.Time { return now }
	f := newFixture(t, clinical.DefaultCapabilities(), opts)

	assert.True(t, f.ch.Expired())
	sess, err := f.ch.Initiate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, enc, sess.EncounterID)
	assert.Equal(t, 600*time.Second, sess.TTL)
	assert.True(t, strings.HasPrefix(sess.QR, "data:image/png;base64,"))
	assert.Contains(t, sess.UploadURL, sess.Token)

	now = now.Add(599 * time.Second)
	assert.False(t, f.ch.Expired())
	assert.Equal(t, time.Second, f.ch.Remaining())

	now = now.Add(time.Second)
	assert.True(t, f.ch.Expired())
	assert.Equal(t, time.Duration(0), f.ch.Remaining())
}

func TestInitiate_Rejections(t *testing.T) {
	caps := clinical.DefaultCapabilities()
	caps.Features.MobileHandoff = false
	f := newFixture(t, caps, fastOptions())

	_, err := f.ch.Initiate(context.Background(), req)
	assert.ErrorIs(t, err, ErrHandoffDisabled)

	_, err = f.ch.Initiate(context.Background(), clinical.InitiateRequest{EncounterID: enc})
	assert.Error(t, err)
	assert.Empty(t, f.fake.Initiations())

	_, err = f.ch.Regenerate(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRegenerate_KeepsMergedImages(t *testing.T) {
	f := newFixture(t, clinical.DefaultCapabilities(), fastOptions())
	first, err := f.ch.Initiate(context.Background(), req)
	require.NoError(t, err)

	f.fake.AddMobileImage(mobileImage("m-1"))
	added, err := f.ch.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m-1"}, added)

	second, err := f.ch.Regenerate(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
	assert.True(t, f.store.Has("m-1"))
	assert.Len(t, f.fake.Initiations(), 2)
}

func TestSync_ReplayIsDeduplicated(t *testing.T) {
	f := newFixture(t, clinical.DefaultCapabilities(), fastOptions())
	_, err := f.ch.Sync(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = f.ch.Initiate(context.Background(), req)
	require.NoError(t, err)
	f.fake.AddMobileImage(mobileImage("m-1"))
	f.fake.AddMobileImage(mobileImage("m-2"))

	added, err := f.ch.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m-1", "m-2"}, added)

	added, err = f.ch.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Len(t, f.store.List(), 2)

	img, err := f.store.Get("m-1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceMobile, img.Source)
	assert.Equal(t, model.StatusPending, img.Status)
}

func startRun(t *testing.T, f *fixture) (context.CancelFunc, <-chan error) {
	t.Helper()
	_, err := f.ch.Initiate(context.Background(), req)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ch.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestRun_EventPullsImagesAndReconnectsAfterDrop(t *testing.T) {
	f := newFixture(t, clinical.DefaultCapabilities(), fastOptions())
	cancel, done := startRun(t, f)

	require.Eventually(t, func() bool { return f.hub.Subscribers(enc) == 1 }, time.Second, 5*time.Millisecond)
	f.fake.AddMobileImage(mobileImage("m-1"))
	require.NoError(t, f.hub.Publish(context.Background(), relay.Event{Kind: relay.KindImages, EncounterID: enc}))
	require.Eventually(t, func() bool { return f.store.Has("m-1") }, time.Second, 5*time.Millisecond)

	// Published while disconnected: picked up by the post-reconnect sync.
	f.hub.Drop(enc)
	f.fake.AddMobileImage(mobileImage("m-2"))
	require.Eventually(t, func() bool {
		return f.hub.Opened() == 2 && f.store.Has("m-2")
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		state, _ := f.ch.State()
		return state == StateLive
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	state, _ := f.ch.State()
	assert.Equal(t, StateIdle, state)
}

func TestRun_HeartbeatTimeoutReconnects(t *testing.T) {
	opts := fastOptions()
	opts.HeartbeatTimeout = 20 * time.Millisecond
	f := newFixture(t, clinical.DefaultCapabilities(), opts)
	startRun(t, f)

	require.Eventually(t, func() bool { return f.hub.Opened() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestRun_StaleAfterExhaustedReconnects(t *testing.T) {
	opts := fastOptions()
	opts.MaxReconnects = 2
	f := newFixture(t, clinical.DefaultCapabilities(), opts)
	f.hub.FailNext(100)
	_, done := startRun(t, f)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStale)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not give up")
	}
	state, lastErr := f.ch.State()
	assert.Equal(t, StateStale, state)
	assert.ErrorIs(t, lastErr, relay.ErrSubscribeFailed)
	assert.Equal(t, 0, f.hub.Opened())
}
