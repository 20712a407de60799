package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	legal := map[Status][]Status{
		StatusPending:     {StatusCompressing, StatusUploading},
		StatusCompressing: {StatusPending, StatusError},
		StatusUploading:   {StatusCommitted, StatusError},
		StatusError:       {StatusPending},
	}
	all := []Status{StatusPending, StatusCompressing, StatusUploading, StatusCommitted, StatusError}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range legal[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusCommitted.Terminal())
	assert.False(t, StatusError.Terminal())
	assert.False(t, Status("archived").Valid())
}

func TestImageCloneIsDeep(t *testing.T) {
	img := Image{
		ID:            "a",
		File:          []byte{1, 2, 3},
		Metadata:      Metadata{BodySite: &CodedConcept{Code: "x"}, Edits: &Edits{Rotation: 90, Arrows: []Arrow{{X: 1}}}},
		Result:        &CommitResult{DocumentReferenceID: "DocumentReference/1"},
		CommitOptions: &CommitOptions{Inbox: &InboxRouting{RecipientID: "r"}},
	}
	cp := img.Clone()
	cp.File[0] = 9
	cp.Metadata.BodySite.Code = "y"
	cp.Metadata.Edits.Arrows[0].X = 50
	cp.Result.DocumentReferenceID = "changed"
	cp.CommitOptions.Inbox.RecipientID = "other"

	assert.Equal(t, byte(1), img.File[0])
	assert.Equal(t, "x", img.Metadata.BodySite.Code)
	assert.Equal(t, float64(1), img.Metadata.Edits.Arrows[0].X)
	assert.Equal(t, "DocumentReference/1", img.Result.DocumentReferenceID)
	assert.Equal(t, "r", img.CommitOptions.Inbox.RecipientID)
}

func TestEditsValidateAndQuarterTurns(t *testing.T) {
	assert.NoError(t, (*Edits)(nil).Validate())
	assert.ErrorIs(t, (&Edits{Rotation: 45}).Validate(), ErrInvalidRotation)
	assert.ErrorIs(t, (&Edits{Crop: &Crop{X: 60, Width: 50, Height: 10}}).Validate(), ErrInvalidCrop)
	assert.ErrorIs(t, (&Edits{Arrows: []Arrow{{X: 101}}}).Validate(), ErrInvalidArrow)

	assert.Equal(t, 3, (&Edits{Rotation: -90}).QuarterTurns())
	assert.Equal(t, 0, (&Edits{Rotation: 360}).QuarterTurns())
	assert.True(t, (&Edits{Rotation: 360}).IsZero())
	assert.False(t, (&Edits{Crop: &Crop{Width: 10, Height: 10}}).IsZero())
}

func TestMobileSessionExpiry(t *testing.T) {
	issued := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	s := MobileSession{IssuedAt: issued, TTL: 600 * time.Second}
	assert.False(t, s.Expired(issued.Add(599*time.Second)))
	assert.True(t, s.Expired(issued.Add(600*time.Second)))
	assert.Equal(t, time.Second, s.Remaining(issued.Add(599*time.Second)))
	assert.Zero(t, s.Remaining(issued.Add(time.Hour)))
}

func TestCapabilitiesAccepts(t *testing.T) {
	caps := Capabilities{
		BodySites: []CodedConcept{{System: "s", Code: "1"}},
		Limits:    Limits{AcceptedTypes: []string{"image/jpeg"}},
	}
	assert.True(t, caps.Accepts("image/jpeg; charset=binary"))
	assert.False(t, caps.Accepts("image/png"))
	require.True(t, caps.Offers(FieldBodySite, &CodedConcept{System: "s", Code: "1", Display: "any"}))
	assert.False(t, caps.Offers(FieldBodySite, &CodedConcept{System: "s", Code: "2"}))
}
