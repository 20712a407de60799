package session

// ChangeKind classifies a store notification.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeUpdated   ChangeKind = "updated"
	ChangeStatus    ChangeKind = "status"
	ChangeRemoved   ChangeKind = "removed"
	ChangeSelection ChangeKind = "selection"
)

// Change tells watchers that something moved. It is an invalidation signal;
// watchers re-read the store for the current state.
type Change struct {
	Version uint64     `json:"version"`
	Kind    ChangeKind `json:"kind"`
	ImageID string     `json:"imageId,omitempty"`
}

// Watch registers a watcher. Slow watchers miss intermediate changes rather
// than blocking writers. Call the returned func to unregister.
func (s *Store) Watch(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
	}
}

// Version is bumped on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) notifyLocked(kind ChangeKind, id string) {
	s.version++
	c := Change{Version: s.version, Kind: kind, ImageID: id}
	for ch := range s.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
