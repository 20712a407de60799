// Package session holds the per-encounter Session Store: the single shared
// state container for captured images, their status, and the selection set.
//
// Every mutation clones the stored record, changes the clone, and swaps it in
// under the write lock, so readers always observe whole records.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

var (
	ErrNotFound          = errors.New("image not found")
	ErrDuplicate         = errors.New("image already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrImmutable         = errors.New("committed images are immutable")
)

// Counts are the derived numbers rendering surfaces show as badges.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
	Invalid   int `json:"invalid"`
	Selected  int `json:"selected"`
}

// Store is a mutex-guarded image collection with an independent selection
// set. The zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	images   map[string]*model.Image
	order    []string
	selected map[string]struct{}
	version  uint64
	watchers map[chan Change]struct{}
	now      func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		images:   make(map[string]*model.Image),
		selected: make(map[string]struct{}),
		watchers: make(map[chan Change]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Add inserts a new image. New images must start pending or compressing.
func (s *Store) Add(img model.Image) (model.Image, error) {
	if img.ID == "" {
		return model.Image{}, errors.New("image id required")
	}
	if img.Status == "" {
		img.Status = model.StatusPending
	}
	if img.Status != model.StatusPending && img.Status != model.StatusCompressing {
		return model.Image{}, fmt.Errorf("%w: cannot add image in %s", ErrInvalidTransition, img.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[img.ID]; ok {
		return model.Image{}, ErrDuplicate
	}
	stored := img.Clone()
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.images[stored.ID] = &stored
	s.order = append(s.order, stored.ID)
	s.notifyLocked(ChangeAdded, stored.ID)
	return stored.Clone(), nil
}

// AddIfAbsent inserts img unless an image with the same id already exists.
// It reports whether the image was added.
func (s *Store) AddIfAbsent(img model.Image) (bool, error) {
	_, err := s.Add(img)
	if errors.Is(err, ErrDuplicate) {
		return false, nil
	}
	return err == nil, err
}

// Has reports whether id is present.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.images[id]
	return ok
}

// Get returns a copy of the image.
func (s *Store) Get(id string) (model.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok {
		return model.Image{}, ErrNotFound
	}
	return img.Clone(), nil
}

// List returns copies of every image in insertion order.
func (s *Store) List() []model.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Image, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.images[id].Clone())
	}
	return out
}

// Filter returns copies of the images matching keep, in insertion order.
func (s *Store) Filter(keep func(*model.Image) bool) []model.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Image
	for _, id := range s.order {
		if img := s.images[id]; keep(img) {
			out = append(out, img.Clone())
		}
	}
	return out
}

// Update applies mutate to a copy of the image and stores the copy. Status is
// owned by Transition; a mutate that changes it is rejected. Committed images
// cannot be updated.
func (s *Store) Update(id string, mutate func(*model.Image) error) (model.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.images[id]
	if !ok {
		return model.Image{}, ErrNotFound
	}
	if cur.Status.Terminal() {
		return model.Image{}, ErrImmutable
	}
	next := cur.Clone()
	if err := mutate(&next); err != nil {
		return model.Image{}, err
	}
	if next.Status != cur.Status || next.ID != cur.ID {
		return model.Image{}, errors.New("update may not change id or status")
	}
	next.UpdatedAt = s.now()
	s.images[id] = &next
	s.notifyLocked(ChangeUpdated, id)
	return next.Clone(), nil
}

// Transition moves the image to status to, applying mutate to the copy in the
// same atomic step. Error text is cleared on every transition except into
// error; result is only kept on committed.
func (s *Store) Transition(id string, to model.Status, mutate func(*model.Image)) (model.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.images[id]
	if !ok {
		return model.Image{}, ErrNotFound
	}
	if cur.Status.Terminal() {
		return model.Image{}, ErrImmutable
	}
	if !cur.Status.CanTransition(to) {
		return model.Image{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	next := cur.Clone()
	next.Status = to
	if mutate != nil {
		mutate(&next)
		next.Status = to
	}
	if to != model.StatusError {
		next.Error = ""
	} else if next.Error == "" {
		next.Error = "unknown error"
	}
	if to != model.StatusCommitted {
		next.Result = nil
	}
	next.UpdatedAt = s.now()
	s.images[id] = &next
	s.notifyLocked(ChangeStatus, id)
	return next.Clone(), nil
}

// Remove deletes images and drops them from the selection in the same
// critical section. Unknown ids are ignored; removed ids are returned.
func (s *Store) Remove(ids ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for _, id := range ids {
		if _, ok := s.images[id]; !ok {
			continue
		}
		delete(s.images, id)
		delete(s.selected, id)
		removed = append(removed, id)
	}
	if len(removed) == 0 {
		return nil
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.images[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	for _, id := range removed {
		s.notifyLocked(ChangeRemoved, id)
	}
	return removed
}

// Close empties the store and ends every watch by closing its channel.
// Writes after Close still work on the empty store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = make(map[string]*model.Image)
	s.order = nil
	s.selected = make(map[string]struct{})
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
}

// Counts computes the badge numbers.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := Counts{Total: len(s.images), Selected: len(s.selected)}
	for _, img := range s.images {
		switch img.Status {
		case model.StatusPending, model.StatusCompressing:
			c.Pending++
		case model.StatusUploading:
			c.Uploading++
		case model.StatusCommitted:
			c.Committed++
		case model.StatusError:
			c.Failed++
		}
		if img.Status != model.StatusCommitted && img.MissingRequired() {
			c.Invalid++
		}
	}
	return c
}

// CommittedBytes sums the sizes of committed images.
func (s *Store) CommittedBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, img := range s.images {
		if img.Status == model.StatusCommitted {
			total += img.Size
		}
	}
	return total
}
