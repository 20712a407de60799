// Package intake is the single entry point through which captured images
// reach the session store, whether they come from a desktop upload or are
// relayed from a paired phone.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartSnap/internal/capabilities"
	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
)

var (
	ErrAttachmentsDisabled = errors.New("image attachments are disabled")
	ErrBatchTooLarge       = errors.New("too many files in one batch")
	ErrUnsupportedType     = errors.New("file type not accepted")
)

// ValidationError rejects a whole capture call before anything is stored.
type ValidationError struct {
	Err   error
	Files []string
}

func (e *ValidationError) Error() string {
	if len(e.Files) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Files, ", "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Upload is one desktop-captured file.
type Upload struct {
	Name string
	Data []byte
}

// Failure describes a file that was stored in error because compression
// failed.
type Failure struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Report summarizes one Capture call.
type Report struct {
	Added  []string  `json:"added"`
	Failed []Failure `json:"failed,omitempty"`
}

// Intake validates, compresses and stores captures.
type Intake struct {
	store *session.Store
	caps  *capabilities.Cache
	opts  compress.Options
	log   zerolog.Logger
	newID func() string

	// mu serializes Capture so files compress one at a time in input order
	// and the image-N numbering is reproducible.
	mu  sync.Mutex
	seq int
}

// New constructs an Intake.
func New(store *session.Store, caps *capabilities.Cache, opts compress.Options, log zerolog.Logger) *Intake {
	return &Intake{
		store: store,
		caps:  caps,
		opts:  opts,
		log:   log.With().Str("component", "intake").Logger(),
		newID: uuid.NewString,
	}
}

// Capture validates the whole batch, then compresses and stores each file in
// input order. A file that fails to compress is stored with status error and
// the rest of the batch continues.
func (in *Intake) Capture(ctx context.Context, uploads []Upload) (*Report, error) {
	caps, err := in.caps.Get(ctx)
	if err != nil {
		return nil, err
	}
	types, err := validate(caps, uploads)
	if err != nil {
		return nil, err
	}

	opts := in.opts
	if max := caps.Limits.MaxFileBytes; max > 0 && (opts.MaxSizeBytes <= 0 || max < opts.MaxSizeBytes) {
		opts.MaxSizeBytes = max
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	report := &Report{}
	for i, u := range uploads {
		in.seq++
		id := in.newID()
		name := fmt.Sprintf("image-%d.jpg", in.seq)
		if _, err := in.store.Add(model.Image{
			ID:          id,
			FileName:    name,
			ContentType: types[i],
			Size:        int64(len(u.Data)),
			Source:      model.SourceDesktop,
			Status:      model.StatusPending,
		}); err != nil {
			return report, fmt.Errorf("store %s: %w", name, err)
		}
		if _, err := in.store.Transition(id, model.StatusCompressing, nil); err != nil {
			continue
		}
		res, err := compress.Compress(u.Data, opts)
		if err != nil {
			msg := fmt.Sprintf("compression failed: %v", err)
			in.log.Warn().Err(err).Str("image_id", id).Str("file", u.Name).Msg("compression failed")
			if _, terr := in.store.Transition(id, model.StatusError, func(img *model.Image) {
				img.Error = msg
			}); terr == nil {
				report.Failed = append(report.Failed, Failure{ID: id, Name: u.Name, Error: msg})
			}
			continue
		}
		_, err = in.store.Transition(id, model.StatusPending, func(img *model.Image) {
			img.File = res.Data
			img.ContentType = res.ContentType
			img.Size = res.Size()
			img.Width = res.Width
			img.Height = res.Height
			img.Thumbnail = res.Thumbnail
		})
		if errors.Is(err, session.ErrNotFound) {
			// Removed while compressing.
			continue
		}
		if err != nil {
			return report, err
		}
		in.log.Debug().
			Str("image_id", id).
			Int64("original_bytes", res.OriginalSize).
			Int64("bytes", res.Size()).
			Bool("pass_through", res.PassThrough).
			Int("attempts", res.Attempts).
			Msg("image captured")
		report.Added = append(report.Added, id)
	}
	return report, nil
}

func validate(caps model.Capabilities, uploads []Upload) ([]string, error) {
	if !caps.Features.ImageAttachment {
		return nil, &ValidationError{Err: ErrAttachmentsDisabled}
	}
	if max := caps.Limits.MaxFilesPerBatch; max > 0 && len(uploads) > max {
		return nil, &ValidationError{Err: fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(uploads), max)}
	}
	types := make([]string, len(uploads))
	var rejected []string
	for i, u := range uploads {
		if len(u.Data) == 0 {
			rejected = append(rejected, u.Name)
			continue
		}
		types[i] = compress.DetectContentType(u.Data)
		if !caps.Accepts(types[i]) {
			rejected = append(rejected, u.Name)
		}
	}
	if len(rejected) > 0 {
		return nil, &ValidationError{Err: ErrUnsupportedType, Files: rejected}
	}
	return types, nil
}

// AddMobile merges relayed images into the store, de-duplicating by image
// id. It returns the ids that were genuinely new.
func (in *Intake) AddMobile(images []model.MobileImage) ([]string, error) {
	var added []string
	for _, mi := range images {
		if mi.ID == "" || in.store.Has(mi.ID) {
			continue
		}
		size := mi.Size
		if size == 0 {
			size = int64(len(mi.Data))
		}
		ok, err := in.store.AddIfAbsent(model.Image{
			ID:          mi.ID,
			FileName:    mi.FileName,
			ContentType: mi.ContentType,
			File:        mi.Data,
			PreviewURL:  mi.PreviewURL,
			Thumbnail:   mi.Thumbnail,
			Size:        size,
			Width:       mi.Width,
			Height:      mi.Height,
			Source:      model.SourceMobile,
			Metadata:    mi.Metadata.Clone(),
			Status:      model.StatusPending,
			CreatedAt:   mi.UploadedAt,
		})
		if err != nil {
			return added, fmt.Errorf("merge mobile image %s: %w", mi.ID, err)
		}
		if ok {
			added = append(added, mi.ID)
		}
	}
	if len(added) > 0 {
		in.log.Info().Int("count", len(added)).Msg("merged mobile images")
	}
	return added, nil
}
