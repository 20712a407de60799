// Package commit sends tagged images to the external clinical record system
// in batches and reconciles the per-file outcome back into the session store.
package commit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartSnap/internal/capabilities"
	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
)

// keySpace namespaces idempotency keys (UUIDv5 over encounter and image id).
var keySpace = uuid.MustParse("8f9c1f4e-3c53-5a8e-9d2b-6f1c0c2a7e41")

// IdempotencyKey is a pure function of (encounterID, imageID), so retrying
// the same image against the same encounter never mints a new key.
func IdempotencyKey(encounterID, imageID string) string {
	return uuid.NewSHA1(keySpace, []byte(encounterID+"\x00"+imageID)).String()
}

// Failure is one image that ended in error.
type Failure struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Outcome summarizes a commit call. Skipped holds ids that were already
// committed, already in flight, or no longer present.
type Outcome struct {
	Committed []string  `json:"committed"`
	Failed    []Failure `json:"failed"`
	Skipped   []string  `json:"skipped,omitempty"`
}

// FailedIDs lists the ids in Failed.
func (o *Outcome) FailedIDs() []string {
	ids := make([]string, 0, len(o.Failed))
	for _, f := range o.Failed {
		ids = append(ids, f.ID)
	}
	return ids
}

// DefaultCallTimeout bounds a single clinical commit call.
const DefaultCallTimeout = 2 * time.Minute

// Committer runs the commit protocol for one encounter's store.
type Committer struct {
	store   *session.Store
	client  clinical.Client
	caps    *capabilities.Cache
	render  compress.Options
	timeout time.Duration
	log     zerolog.Logger
}

// New constructs a Committer. render bounds images re-encoded because they
// carry edits.
func New(store *session.Store, client clinical.Client, caps *capabilities.Cache, render compress.Options, log zerolog.Logger) *Committer {
	return &Committer{
		store:   store,
		client:  client,
		caps:    caps,
		render:  render,
		timeout: DefaultCallTimeout,
		log:     log.With().Str("component", "commit").Logger(),
	}
}

// SetCallTimeout overrides DefaultCallTimeout. Non-positive values are
// ignored.
func (c *Committer) SetCallTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Commit validates the images, flips them to uploading, sends them in
// batches of at most maxFilesPerBatch, and reconciles each file's outcome
// independently. Validation errors leave the store untouched. Commit never
// retries on its own.
func (c *Committer) Commit(ctx context.Context, encounterID string, ids []string) (*Outcome, error) {
	caps, err := c.caps.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := &Outcome{}
	imgs := c.eligible(ids, out)
	if len(imgs) == 0 {
		return out, nil
	}
	if err := c.validate(caps, imgs); err != nil {
		return nil, err
	}

	// Optimistic: everything shows as in flight before the first request.
	inflight := make([]model.Image, 0, len(imgs))
	for _, img := range imgs {
		moved, err := c.store.Transition(img.ID, model.StatusUploading, nil)
		if err != nil {
			out.Skipped = append(out.Skipped, img.ID)
			continue
		}
		inflight = append(inflight, moved)
	}

	files := make([]clinical.CommitFile, 0, len(inflight))
	for _, img := range inflight {
		file, err := c.buildFile(encounterID, img)
		if err != nil {
			c.fail(out, img.ID, err.Error())
			continue
		}
		files = append(files, file)
	}

	size := caps.Limits.MaxFilesPerBatch
	if size <= 0 {
		size = len(files)
	}
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		c.send(ctx, encounterID, files[start:end], out)
	}
	c.log.Info().
		Str("encounter_id", encounterID).
		Int("committed", len(out.Committed)).
		Int("failed", len(out.Failed)).
		Int("skipped", len(out.Skipped)).
		Msg("commit finished")
	return out, nil
}

// eligible drops committed, in-flight and unknown ids, preserving order and
// ignoring duplicates.
func (c *Committer) eligible(ids []string, out *Outcome) []model.Image {
	seen := make(map[string]bool, len(ids))
	var imgs []model.Image
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		img, err := c.store.Get(id)
		if err != nil || img.Status == model.StatusCommitted || img.Status == model.StatusUploading {
			out.Skipped = append(out.Skipped, id)
			continue
		}
		imgs = append(imgs, img)
	}
	return imgs
}

func (c *Committer) send(ctx context.Context, encounterID string, files []clinical.CommitFile, out *Outcome) {
	// Once files are uploading the call is not abortable: the clinical system
	// may already have written records, so a caller that goes away must not
	// turn them into errors. Only the call timeout ends it early.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	resp, err := c.client.Commit(callCtx, clinical.CommitRequest{EncounterID: encounterID, Files: files})
	if err != nil {
		msg := fmt.Sprintf("commit request failed: %v", err)
		c.log.Error().Err(err).Str("encounter_id", encounterID).Int("files", len(files)).Msg("commit transport failure")
		for _, f := range files {
			c.fail(out, f.FileID, msg)
		}
		return
	}
	byID := make(map[string]clinical.FileOutcome, len(resp.Files))
	for _, o := range resp.Files {
		byID[o.FileID] = o
	}
	for _, f := range files {
		o, ok := byID[f.FileID]
		switch {
		case !ok:
			c.fail(out, f.FileID, "no outcome returned for file")
		case o.Status == clinical.FileCommitted:
			_, err := c.store.Transition(f.FileID, model.StatusCommitted, func(img *model.Image) {
				img.Result = o.Result()
			})
			if err != nil {
				// Removed while in flight: nothing to reconcile.
				c.log.Debug().Str("image_id", f.FileID).Err(err).Msg("commit outcome dropped")
				continue
			}
			out.Committed = append(out.Committed, f.FileID)
		default:
			msg := o.Error
			if msg == "" {
				msg = "rejected by clinical system"
			}
			c.fail(out, f.FileID, msg)
		}
	}
}

func (c *Committer) fail(out *Outcome, id, msg string) {
	if _, err := c.store.Transition(id, model.StatusError, func(img *model.Image) {
		img.Error = msg
	}); err != nil {
		return
	}
	out.Failed = append(out.Failed, Failure{ID: id, Message: msg})
}

func (c *Committer) buildFile(encounterID string, img model.Image) (clinical.CommitFile, error) {
	file := clinical.CommitFile{
		FileID:         img.ID,
		FileName:       img.FileName,
		ContentType:    img.ContentType,
		Meta:           clinical.MetaFrom(img.Metadata),
		IdempotencyKey: IdempotencyKey(encounterID, img.ID),
	}
	if img.CommitOptions != nil {
		file.AlsoInbox = img.CommitOptions.Inbox
		file.AlsoTask = img.CommitOptions.Task
	}
	switch {
	case len(img.File) > 0 && !img.Metadata.Edits.IsZero():
		res, err := compress.Render(img.File, img.Metadata.Edits, c.render)
		if err != nil {
			return file, fmt.Errorf("render edits: %w", err)
		}
		file.Data = res.Data
		file.ContentType = res.ContentType
	case len(img.File) > 0:
		file.Data = img.File
	default:
		file.SourceURL = img.PreviewURL
	}
	if file.ContentType == "" {
		file.ContentType = compress.ContentTypeJPEG
	}
	return file, nil
}

// Retry moves failed images back to pending and commits them again with the
// same idempotency keys. Ids not in error are ignored. The failed images are
// validated while still in error, so a rejected retry keeps their status and
// failure messages.
func (c *Committer) Retry(ctx context.Context, encounterID string, ids []string) (*Outcome, error) {
	seen := make(map[string]bool, len(ids))
	var failed []model.Image
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if img, err := c.store.Get(id); err == nil && img.Status == model.StatusError {
			failed = append(failed, img)
		}
	}
	if len(failed) > 0 {
		caps, err := c.caps.Get(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.validate(caps, failed); err != nil {
			return nil, err
		}
	}
	retry := make([]string, 0, len(failed))
	for _, img := range failed {
		if _, err := c.store.Transition(img.ID, model.StatusPending, nil); err != nil {
			continue
		}
		retry = append(retry, img.ID)
	}
	return c.Commit(ctx, encounterID, retry)
}

// Discard removes failed images from the session. Ids not in error are left
// alone.
func (c *Committer) Discard(ids []string) []string {
	var drop []string
	for _, id := range ids {
		if img, err := c.store.Get(id); err == nil && img.Status == model.StatusError {
			drop = append(drop, id)
		}
	}
	return c.store.Remove(drop...)
}

// ErrNotFailed is returned by FailureMessage for images not in error.
var ErrNotFailed = errors.New("image has not failed")

// FailureMessage returns the error text of a failed image.
func (c *Committer) FailureMessage(id string) (string, error) {
	img, err := c.store.Get(id)
	if err != nil {
		return "", err
	}
	if img.Status != model.StatusError {
		return "", ErrNotFailed
	}
	return img.Error, nil
}

// Failed lists every image currently in error.
func (c *Committer) Failed() []Failure {
	imgs := c.store.Filter(func(img *model.Image) bool { return img.Status == model.StatusError })
	out := make([]Failure, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, Failure{ID: img.ID, Message: img.Error})
	}
	return out
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}
