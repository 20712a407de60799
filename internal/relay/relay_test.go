package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, "chartsnap:mobile:enc-9", Channel("enc-9"))
}

func TestEncodeDecode(t *testing.T) {
	_, err := encode(Event{Kind: KindImages})
	require.Error(t, err)

	data, err := encode(Event{Kind: KindImages, EncounterID: "enc-1", ImageID: "m-1"})
	require.NoError(t, err)
	ev, err := decode(string(data))
	require.NoError(t, err)
	assert.Equal(t, KindImages, ev.Kind)
	assert.Equal(t, "m-1", ev.ImageID)
	assert.False(t, ev.At.IsZero())

	ev, err = decode(`{"encounterId":"enc-1"}`)
	require.NoError(t, err)
	assert.Equal(t, KindImages, ev.Kind)

	_, err = decode("not json")
	assert.Error(t, err)
}

func TestHub_PublishReachesOnlyEncounter(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	a, err := hub.Subscribe(ctx, "enc-a")
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, "enc-b")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, Event{Kind: KindImages, EncounterID: "enc-a"}))
	select {
	case ev := <-a.Events():
		assert.Equal(t, "enc-a", ev.EncounterID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
	assert.Equal(t, 2, hub.Opened())
}

func TestHub_DropClosesSubscriptions(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(context.Background(), "enc-a")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers("enc-a"))

	hub.Drop("enc-a")
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers("enc-a"))
	assert.NoError(t, sub.Close())
}

func TestHub_FailNext(t *testing.T) {
	hub := NewHub()
	hub.FailNext(2)
	for i := 0; i < 2; i++ {
		_, err := hub.Subscribe(context.Background(), "enc-a")
		assert.ErrorIs(t, err, ErrSubscribeFailed)
	}
	_, err := hub.Subscribe(context.Background(), "enc-a")
	assert.NoError(t, err)
}
