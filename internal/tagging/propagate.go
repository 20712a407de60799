package tagging

import (
	"errors"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
)

// ApplyMetadataToMany copies laterality, body site, view and type from the
// source image onto each target. Label and edits are never copied. The
// source itself, committed targets, and ids that no longer exist are
// skipped; the ids actually updated are returned.
func (t *Tagger) ApplyMetadataToMany(sourceID string, targetIDs []string) ([]string, error) {
	src, err := t.store.Get(sourceID)
	if err != nil {
		return nil, err
	}
	hasAny := false
	for _, f := range model.TagFields {
		if !src.Metadata.Get(f).IsZero() {
			hasAny = true
			break
		}
	}
	if !hasAny {
		return nil, ErrNoSource
	}
	var applied []string
	for _, id := range targetIDs {
		if id == sourceID {
			continue
		}
		_, err := t.store.Update(id, func(img *model.Image) error {
			for _, f := range model.TagFields {
				img.Metadata.Set(f, src.Metadata.Get(f))
			}
			return nil
		})
		switch {
		case err == nil:
			applied = append(applied, id)
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrImmutable):
		default:
			return applied, err
		}
	}
	return applied, nil
}

// MissingRequired lists images lacking body site or laterality that are not
// yet committed.
func (t *Tagger) MissingRequired() []string {
	imgs := t.store.Filter(func(img *model.Image) bool {
		return img.Status != model.StatusCommitted && img.MissingRequired()
	})
	ids := make([]string, 0, len(imgs))
	for _, img := range imgs {
		ids = append(ids, img.ID)
	}
	return ids
}

// ApplyToMissing copies the source tags onto every image missing required
// fields.
func (t *Tagger) ApplyToMissing(sourceID string) ([]string, error) {
	return t.ApplyMetadataToMany(sourceID, t.MissingRequired())
}
