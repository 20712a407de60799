package clinical

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

func TestFake_ReplayedKeyCreatesNoNewRecord(t *testing.T) {
	f := NewFake(DefaultCapabilities())
	req := CommitRequest{EncounterID: "e", Files: []CommitFile{{FileID: "a", Data: []byte{1}, IdempotencyKey: "k"}}}

	first, err := f.Commit(context.Background(), req)
	require.NoError(t, err)
	second, err := f.Commit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Files[0], second.Files[0])
	assert.Equal(t, 1, f.Records())
	assert.Len(t, f.Commits(), 2)
}

func TestFake_RejectionIsNotRecorded(t *testing.T) {
	f := NewFake(DefaultCapabilities())
	f.Reject("a", "bad body site")
	req := CommitRequest{Files: []CommitFile{{FileID: "a", Data: []byte{1}, IdempotencyKey: "k", AlsoTask: &model.TaskRouting{AssigneeID: "dr-lee"}}}}

	resp, err := f.Commit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, FileError, resp.Files[0].Status)
	assert.Zero(t, f.Records())

	f.ClearReject("a")
	resp, err = f.Commit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, FileCommitted, resp.Files[0].Status)
	assert.NotEmpty(t, resp.Files[0].TaskID)
}

func TestFake_TransportFailure(t *testing.T) {
	f := NewFake(DefaultCapabilities())
	boom := errors.New("timeout")
	f.FailNextCommit(boom)
	_, err := f.Commit(context.Background(), CommitRequest{})
	assert.ErrorIs(t, err, boom)
	_, err = f.Commit(context.Background(), CommitRequest{})
	assert.NoError(t, err)
}

func TestFake_MobileImagesStripDataUnlessRequested(t *testing.T) {
	f := NewFake(DefaultCapabilities())
	f.AddMobileImage(model.MobileImage{ID: "m1", EncounterID: "e", Data: []byte{1}})
	imgs, err := f.MobileImages(context.Background(), "e", false)
	require.NoError(t, err)
	assert.Nil(t, imgs[0].Data)
	imgs, err = f.MobileImages(context.Background(), "e", true)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, imgs[0].Data)
	assert.Equal(t, 2, f.MobileCalls())
}
