package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/queue"
	"github.com/dharsanguruparan/ChartSnap/internal/relay"
	"github.com/dharsanguruparan/ChartSnap/internal/repository"
)

// ImageRepository is the slice of repository.ImageRepository the worker uses.
type ImageRepository interface {
	MarkProcessing(ctx context.Context, id string) error
	MarkReady(ctx context.Context, id string, n repository.Normalized) error
	MarkFailed(ctx context.Context, id, msg string) error
}

// ObjectStore is the slice of s3storage.Storage the worker uses.
type ObjectStore interface {
	DownloadRaw(ctx context.Context, objectKey string) ([]byte, error)
	UploadNormalized(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	repo      ImageRepository
	store     ObjectStore
	publisher relay.Publisher
	opts      compress.Options
	log       zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(repo ImageRepository, store ObjectStore, publisher relay.Publisher, opts compress.Options, log zerolog.Logger) *Processor {
	return &Processor{
		repo:      repo,
		store:     store,
		publisher: publisher,
		opts:      opts,
		log:       log.With().Str("component", "worker").Logger(),
	}
}

// Handler registers the normalize job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.NormalizeImageTask, p.HandleNormalize)
	return mux
}

// HandleNormalize compresses one raw upload, stores the result, marks the
// image ready and tells subscribers to re-pull the listing. Undecodable
// uploads fail permanently; storage errors are retried by asynq.
func (p *Processor) HandleNormalize(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseNormalize(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := p.log.With().Str("image_id", payload.ImageID).Str("encounter_id", payload.EncounterID).Logger()
	failure := func(err error) error {
		log.Error().Err(err).Msg("normalize failed")
		_ = p.repo.MarkFailed(ctx, payload.ImageID, err.Error())
		return err
	}
	if err := p.repo.MarkProcessing(ctx, payload.ImageID); err != nil {
		return failure(err)
	}
	raw, err := p.store.DownloadRaw(ctx, payload.RawKey)
	if err != nil {
		return failure(err)
	}
	res, err := compress.Compress(raw, p.opts)
	if err != nil {
		if errors.Is(err, compress.ErrDecode) || errors.Is(err, compress.ErrTooLarge) || errors.Is(err, compress.ErrEmpty) {
			err = fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return failure(err)
	}
	key := NormalizedObjectKey(payload.EncounterID, payload.ImageID)
	if err := p.store.UploadNormalized(ctx, key, res.Data, res.ContentType); err != nil {
		return failure(err)
	}
	if err := p.repo.MarkReady(ctx, payload.ImageID, repository.Normalized{
		Key:         key,
		ContentType: res.ContentType,
		Size:        res.Size(),
		Width:       res.Width,
		Height:      res.Height,
		Thumbnail:   res.Thumbnail,
	}); err != nil {
		return failure(err)
	}
	// The listing is authoritative; a lost signal is recovered by the
	// listener's next sync.
	if err := p.publisher.Publish(ctx, relay.Event{
		Kind:        relay.KindImages,
		EncounterID: payload.EncounterID,
		ImageID:     payload.ImageID,
	}); err != nil {
		log.Warn().Err(err).Msg("publish images.available failed")
	}
	log.Info().Int64("bytes", res.Size()).Int("attempts", res.Attempts).Msg("image normalized")
	return nil
}

// NormalizedObjectKey is where the compressed copy of an image lives.
func NormalizedObjectKey(encounterID, imageID string) string {
	return fmt.Sprintf("normalized/%s/%s.jpg", encounterID, imageID)
}
