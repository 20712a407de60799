package intake

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ChartSnap/internal/capabilities"
	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newIntake(t *testing.T, caps model.Capabilities) (*Intake, *session.Store) {
	t.Helper()
	store := session.New()
	in := New(store, capabilities.Static(caps), compress.DefaultOptions(), zerolog.Nop())
	n := 0
	in.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return in, store
}

func TestCapture_CompressesInInputOrder(t *testing.T) {
	in, store := newIntake(t, clinical.DefaultCapabilities())
	report, err := in.Capture(context.Background(), []Upload{
		{Name: "a.png", Data: pngBytes(t, 30, 20)},
		{Name: "b.png", Data: pngBytes(t, 20, 30)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1", "id-2"}, report.Added)
	assert.Empty(t, report.Failed)

	imgs := store.List()
	require.Len(t, imgs, 2)
	assert.Equal(t, "image-1.jpg", imgs[0].FileName)
	assert.Equal(t, "image-2.jpg", imgs[1].FileName)
	for _, img := range imgs {
		assert.Equal(t, model.StatusPending, img.Status)
		assert.Equal(t, compress.ContentTypeJPEG, img.ContentType)
		assert.NotEmpty(t, img.File)
		assert.NotEmpty(t, img.Thumbnail)
		assert.Equal(t, model.SourceDesktop, img.Source)
	}
	assert.Equal(t, 30, imgs[0].Width)

	// Numbering continues across calls.
	_, err = in.Capture(context.Background(), []Upload{{Name: "c.png", Data: pngBytes(t, 5, 5)}})
	require.NoError(t, err)
	assert.Equal(t, "image-3.jpg", store.List()[2].FileName)
}

func TestCapture_ValidationHasNoSideEffects(t *testing.T) {
	caps := clinical.DefaultCapabilities()
	caps.Limits.MaxFilesPerBatch = 2
	in, store := newIntake(t, caps)

	_, err := in.Capture(context.Background(), []Upload{
		{Name: "a.png", Data: pngBytes(t, 2, 2)},
		{Name: "b.png", Data: pngBytes(t, 2, 2)},
		{Name: "c.png", Data: pngBytes(t, 2, 2)},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	_, err = in.Capture(context.Background(), []Upload{
		{Name: "ok.png", Data: pngBytes(t, 2, 2)},
		{Name: "notes.txt", Data: []byte("plain text")},
	})
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Equal(t, []string{"notes.txt"}, verr.Files)

	assert.Empty(t, store.List())

	caps.Features.ImageAttachment = false
	in, _ = newIntake(t, caps)
	_, err = in.Capture(context.Background(), []Upload{{Name: "a.png", Data: pngBytes(t, 2, 2)}})
	assert.ErrorIs(t, err, ErrAttachmentsDisabled)
}

func TestCapture_CompressionFailureIsIsolated(t *testing.T) {
	in, store := newIntake(t, clinical.DefaultCapabilities())
	good := pngBytes(t, 4, 4)
	// Valid PNG signature, truncated body: sniffs as image/png, fails to decode.
	broken := good[:20]

	report, err := in.Capture(context.Background(), []Upload{
		{Name: "broken.png", Data: broken},
		{Name: "good.png", Data: good},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-2"}, report.Added)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "broken.png", report.Failed[0].Name)

	bad, err := store.Get("id-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, bad.Status)
	assert.Contains(t, bad.Error, "compression failed")
	ok, err := store.Get("id-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, ok.Status)
}

func TestCapture_UsesCapabilityFileCap(t *testing.T) {
	caps := clinical.DefaultCapabilities()
	caps.Limits.MaxFileBytes = 1
	in, store := newIntake(t, caps)
	_, err := in.Capture(context.Background(), []Upload{{Name: "a.png", Data: pngBytes(t, 8, 8)}})
	require.NoError(t, err)
	img := store.List()[0]
	// Unreachable cap: best effort result is still stored.
	assert.Equal(t, model.StatusPending, img.Status)
	assert.Greater(t, img.Size, int64(1))
}

func TestAddMobile_DeduplicatesByID(t *testing.T) {
	in, store := newIntake(t, clinical.DefaultCapabilities())
	batch := []model.MobileImage{
		{ID: "m1", FileName: "phone-1.jpg", ContentType: "image/jpeg", PreviewURL: "https://relay/m1"},
		{ID: "m2", FileName: "phone-2.jpg", ContentType: "image/jpeg", Data: []byte{0xFF, 0xD8}},
	}
	added, err := in.AddMobile(batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, added)

	added, err = in.AddMobile(append(batch, model.MobileImage{ID: "m3", PreviewURL: "https://relay/m3"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, added)
	assert.Len(t, store.List(), 3)

	m2, _ := store.Get("m2")
	assert.Equal(t, model.SourceMobile, m2.Source)
	assert.Equal(t, int64(2), m2.Size)
}
