// Package tagging sets metadata on images in a session store, bulk-copies
// tag values between images, and remembers the last value used per field.
package tagging

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
)

var (
	ErrNotOffered = errors.New("value is not offered for this field")
	ErrNoSource   = errors.New("source image has no tag values")
)

// Tagger owns the sticky "last used" defaults for one workspace.
type Tagger struct {
	store *session.Store

	mu       sync.RWMutex
	caps     *model.Capabilities
	lastUsed map[model.Field]model.CodedConcept
}

// New constructs a Tagger over store.
func New(store *session.Store) *Tagger {
	return &Tagger{
		store:    store,
		lastUsed: make(map[model.Field]model.CodedConcept),
	}
}

// UseCapabilities makes SetField reject values missing from the pick-lists.
func (t *Tagger) UseCapabilities(caps model.Capabilities) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.caps = &caps
}

// SetField sets one coded field on an image and records the value as the
// sticky default for that field. A nil concept clears the field and leaves
// the sticky default alone.
func (t *Tagger) SetField(id string, f model.Field, c *model.CodedConcept) (model.Image, error) {
	if !c.IsZero() {
		t.mu.RLock()
		caps := t.caps
		t.mu.RUnlock()
		if caps != nil && !caps.Offers(f, c) {
			return model.Image{}, fmt.Errorf("%w: %s=%s", ErrNotOffered, f, c.Code)
		}
	}
	img, err := t.store.Update(id, func(img *model.Image) error {
		img.Metadata.Set(f, c)
		return nil
	})
	if err != nil {
		return model.Image{}, err
	}
	if !c.IsZero() {
		t.mu.Lock()
		t.lastUsed[f] = *c
		t.mu.Unlock()
	}
	return img, nil
}

// SetLabel sets the free-text label.
func (t *Tagger) SetLabel(id, label string) (model.Image, error) {
	return t.store.Update(id, func(img *model.Image) error {
		img.Metadata.Label = label
		return nil
	})
}

// SetEdits replaces the transform parameters. Nil clears them.
func (t *Tagger) SetEdits(id string, e *model.Edits) (model.Image, error) {
	if err := e.Validate(); err != nil {
		return model.Image{}, err
	}
	return t.store.Update(id, func(img *model.Image) error {
		if e == nil {
			img.Metadata.Edits = nil
			return nil
		}
		cp := e.Clone()
		img.Metadata.Edits = &cp
		return nil
	})
}

// SetCommitOptions records the inbox/task side effects for an image.
func (t *Tagger) SetCommitOptions(id string, opts *model.CommitOptions) (model.Image, error) {
	return t.store.Update(id, func(img *model.Image) error {
		if opts == nil {
			img.CommitOptions = nil
			return nil
		}
		cp := opts.Clone()
		img.CommitOptions = &cp
		return nil
	})
}

// LastUsed returns the sticky default for f.
func (t *Tagger) LastUsed(f model.Field) (model.CodedConcept, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.lastUsed[f]
	return c, ok
}

// Suggestions returns the sticky defaults for the fields the image has not
// been tagged with yet. Nothing is written to the image.
func (t *Tagger) Suggestions(id string) (map[model.Field]model.CodedConcept, error) {
	img, err := t.store.Get(id)
	if err != nil {
		return nil, err
	}
	out := make(map[model.Field]model.CodedConcept)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, f := range model.TagFields {
		if !img.Metadata.Get(f).IsZero() {
			continue
		}
		if c, ok := t.lastUsed[f]; ok {
			out[f] = c
		}
	}
	return out, nil
}
