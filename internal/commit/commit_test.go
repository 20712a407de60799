package commit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ChartSnap/internal/capabilities"
	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
)

const encounter = "enc-1"

var (
	right   = &model.CodedConcept{System: "http://snomed.info/sct", Code: "24028007", Display: "Right"}
	forearm = &model.CodedConcept{System: "http://snomed.info/sct", Code: "14975008", Display: "Forearm"}
)

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for i := range img.Pix {
		img.Pix[i] = 0xC0
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

type harness struct {
	store *session.Store
	fake  *clinical.Fake
	c     *Committer
}

func newHarness(t *testing.T, mutate func(*model.Capabilities)) *harness {
	t.Helper()
	caps := clinical.DefaultCapabilities()
	if mutate != nil {
		mutate(&caps)
	}
	store := session.New()
	fake := clinical.NewFake(caps)
	return &harness{
		store: store,
		fake:  fake,
		c:     New(store, fake, capabilities.Static(caps), compress.DefaultOptions(), zerolog.Nop()),
	}
}

// addTagged inserts n pending images tagged Right/Forearm with ids img-1..n.
func (h *harness) addTagged(t *testing.T, n int) []string {
	t.Helper()
	data := jpegBytes(t)
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("img-%d", i)
		_, err := h.store.Add(model.Image{
			ID:          id,
			FileName:    fmt.Sprintf("image-%d.jpg", i),
			ContentType: compress.ContentTypeJPEG,
			File:        data,
			Size:        int64(len(data)),
			Status:      model.StatusPending,
			Metadata:    model.Metadata{Laterality: right, BodySite: forearm},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("enc-1", "img-1")
	assert.Equal(t, a, IdempotencyKey("enc-1", "img-1"))
	assert.NotEqual(t, a, IdempotencyKey("enc-2", "img-1"))
	assert.NotEqual(t, a, IdempotencyKey("enc-1", "img-2"))
	assert.NotEqual(t, IdempotencyKey("enc-1a", "b"), IdempotencyKey("enc-1", "ab"))
}

func TestCommit_TaggedImageGetsDocumentReference(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 1)

	out, err := h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)
	assert.Equal(t, ids, out.Committed)
	assert.Empty(t, out.Failed)

	img, err := h.store.Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.StatusCommitted, img.Status)
	require.NotNil(t, img.Result)
	assert.Equal(t, "DocumentReference/1", img.Result.DocumentReferenceID)

	commits := h.fake.Commits()
	require.Len(t, commits, 1)
	file := commits[0].Files[0]
	assert.Equal(t, IdempotencyKey(encounter, ids[0]), file.IdempotencyKey)
	assert.Equal(t, "24028007", file.Meta.Laterality.Code)
	assert.Equal(t, "14975008", file.Meta.BodySite.Code)
	assert.NotEmpty(t, file.Data)
}

func TestCommit_SkipsCommittedImages(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 1)
	_, err := h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)

	out, err := h.c.Commit(context.Background(), encounter, append(ids, "missing"))
	require.NoError(t, err)
	assert.Empty(t, out.Committed)
	assert.ElementsMatch(t, []string{ids[0], "missing"}, out.Skipped)
	assert.Len(t, h.fake.Commits(), 1)
}

func TestCommit_PartialFailureThenRetryReusesKey(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 3)
	h.fake.Reject(ids[1], "storage quota")

	out, err := h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2]}, out.Committed)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, Failure{ID: ids[1], Message: "storage quota"}, out.Failed[0])
	assert.Equal(t, 2, h.fake.Records())

	msg, err := h.c.FailureMessage(ids[1])
	require.NoError(t, err)
	assert.Equal(t, "storage quota", msg)
	assert.Equal(t, out.Failed, h.c.Failed())

	h.fake.ClearReject(ids[1])
	out, err = h.c.Retry(context.Background(), encounter, ids)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, out.Committed)
	assert.Equal(t, 3, h.fake.Records())

	commits := h.fake.Commits()
	require.Len(t, commits, 2)
	require.Len(t, commits[1].Files, 1)
	assert.Equal(t, commits[0].Files[1].IdempotencyKey, commits[1].Files[0].IdempotencyKey)

	img, err := h.store.Get(ids[1])
	require.NoError(t, err)
	assert.Equal(t, model.StatusCommitted, img.Status)
	assert.Empty(t, img.Error)
}

func TestCommit_TransportFailureFailsBatch(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 2)
	h.fake.FailNextCommit(errors.New("connection reset"))

	out, err := h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)
	assert.Empty(t, out.Committed)
	assert.ElementsMatch(t, ids, out.FailedIDs())
	for _, f := range out.Failed {
		assert.Contains(t, f.Message, "connection reset")
	}
	assert.Equal(t, 0, h.fake.Records())

	out, err = h.c.Retry(context.Background(), encounter, ids)
	require.NoError(t, err)
	assert.Equal(t, ids, out.Committed)
}

func TestCommit_RemovedWhileInFlight(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 2)
	h.fake.BeforeCommit(func(context.Context, clinical.CommitRequest) error {
		img, err := h.store.Get(ids[0])
		if err != nil || img.Status != model.StatusUploading {
			return fmt.Errorf("expected %s uploading, got %v", ids[0], img.Status)
		}
		h.store.Remove(ids[0])
		return nil
	})

	out, err := h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, out.Committed)
	assert.Empty(t, out.Failed)
	assert.False(t, h.store.Has(ids[0]))
}

func TestCommit_ChunksByBatchLimit(t *testing.T) {
	h := newHarness(t, func(c *model.Capabilities) { c.Limits.MaxFilesPerBatch = 2 })
	ids := h.addTagged(t, 5)

	out, err := h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)
	assert.Equal(t, ids, out.Committed)

	commits := h.fake.Commits()
	require.Len(t, commits, 3)
	assert.Len(t, commits[0].Files, 2)
	assert.Len(t, commits[1].Files, 2)
	assert.Len(t, commits[2].Files, 1)
}

func TestCommit_ValidationLeavesStoreUntouched(t *testing.T) {
	tests := []struct {
		name  string
		caps  func(*model.Capabilities)
		setup func(t *testing.T, h *harness, ids []string)
		want  error
	}{
		{
			name: "attachments disabled",
			caps: func(c *model.Capabilities) { c.Features.ImageAttachment = false },
			want: ErrAttachmentsDisabled,
		},
		{
			name: "missing body site",
			setup: func(t *testing.T, h *harness, ids []string) {
				_, err := h.store.Update(ids[1], func(img *model.Image) error {
					img.Metadata.BodySite = nil
					return nil
				})
				require.NoError(t, err)
			},
			want: ErrMissingRequired,
		},
		{
			name: "inbox routing disabled",
			caps: func(c *model.Capabilities) { c.Features.InboxRouting = false },
			setup: func(t *testing.T, h *harness, ids []string) {
				_, err := h.store.Update(ids[0], func(img *model.Image) error {
					img.CommitOptions = &model.CommitOptions{Inbox: &model.InboxRouting{RecipientID: "dr-lee"}}
					return nil
				})
				require.NoError(t, err)
			},
			want: ErrInboxDisabled,
		},
		{
			name: "unknown assignee",
			setup: func(t *testing.T, h *harness, ids []string) {
				_, err := h.store.Update(ids[0], func(img *model.Image) error {
					img.CommitOptions = &model.CommitOptions{Task: &model.TaskRouting{AssigneeID: "nobody"}}
					return nil
				})
				require.NoError(t, err)
			},
			want: ErrUnknownAssignee,
		},
		{
			name: "encounter quota",
			caps: func(c *model.Capabilities) { c.Limits.MaxEncounterBytes = 10 },
			want: ErrEncounterFull,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.caps)
			ids := h.addTagged(t, 2)
			if tt.setup != nil {
				tt.setup(t, h, ids)
			}
			_, err := h.c.Commit(context.Background(), encounter, ids)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, tt.want)
			for _, img := range h.store.List() {
				assert.Equal(t, model.StatusPending, img.Status)
			}
			assert.Empty(t, h.fake.Commits())
		})
	}
}

func TestCommit_RoutingIDsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 1)
	_, err := h.store.Update(ids[0], func(img *model.Image) error {
		img.CommitOptions = &model.CommitOptions{
			Inbox: &model.InboxRouting{RecipientID: "dr-lee"},
			Task:  &model.TaskRouting{AssigneeID: "front-desk", DueDate: "2026-11-01"},
		}
		return nil
	})
	require.NoError(t, err)

	_, err = h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)
	img, err := h.store.Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Communication/1", img.Result.InboxMessageID)
	assert.Equal(t, "Task/1", img.Result.TaskID)
}

func TestCommit_RendersEdits(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 1)
	_, err := h.store.Update(ids[0], func(img *model.Image) error {
		img.Metadata.Edits = &model.Edits{Rotation: 90}
		return nil
	})
	require.NoError(t, err)

	_, err = h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)
	file := h.fake.Commits()[0].Files[0]
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(file.Data))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)
	assert.Equal(t, 40, cfg.Height)
}

func TestDiscard_OnlyFailed(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 2)
	h.fake.Reject(ids[0], "nope")
	_, err := h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)

	removed := h.c.Discard(ids)
	assert.Equal(t, []string{ids[0]}, removed)
	assert.False(t, h.store.Has(ids[0]))
	assert.True(t, h.store.Has(ids[1]))

	_, err = h.c.FailureMessage(ids[1])
	assert.ErrorIs(t, err, ErrNotFailed)
}

func TestCommit_CallerCancelDoesNotAbortUpload(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fake.BeforeCommit(func(callCtx context.Context, _ clinical.CommitRequest) error {
		cancel()
		return callCtx.Err()
	})

	out, err := h.c.Commit(ctx, encounter, ids)
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, ids, out.Committed)
	assert.Empty(t, out.Failed)
	for _, id := range ids {
		img, err := h.store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCommitted, img.Status)
	}
	assert.Equal(t, 2, h.fake.Records())
}

func TestCommit_CallTimeoutFailsBatch(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 1)
	h.c.SetCallTimeout(20 * time.Millisecond)
	h.fake.BeforeCommit(func(callCtx context.Context, _ clinical.CommitRequest) error {
		<-callCtx.Done()
		return callCtx.Err()
	})

	out, err := h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)
	require.Len(t, out.Failed, 1)
	assert.Contains(t, out.Failed[0].Message, context.DeadlineExceeded.Error())
}

func TestRetry_ValidationKeepsFailureState(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addTagged(t, 2)
	h.fake.Reject(ids[0], "storage quota")
	h.fake.Reject(ids[1], "storage quota")
	_, err := h.c.Commit(context.Background(), encounter, ids)
	require.NoError(t, err)

	_, err = h.store.Update(ids[0], func(img *model.Image) error {
		img.CommitOptions = &model.CommitOptions{Inbox: &model.InboxRouting{RecipientID: "nobody"}}
		return nil
	})
	require.NoError(t, err)
	h.fake.ClearReject(ids[0])
	h.fake.ClearReject(ids[1])

	_, err = h.c.Retry(context.Background(), encounter, ids)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrUnknownRecipient)
	assert.Equal(t, []string{ids[0]}, verr.IDs)

	for _, id := range ids {
		img, err := h.store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusError, img.Status)
		msg, err := h.c.FailureMessage(id)
		require.NoError(t, err)
		assert.Equal(t, "storage quota", msg)
	}
	assert.Len(t, h.fake.Commits(), 1)
}
