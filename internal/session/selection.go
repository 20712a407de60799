package session

// Select adds ids to the selection. Ids that do not name an image are
// ignored so the selection never points at a missing image.
func (s *Store) Select(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, id := range ids {
		if _, ok := s.images[id]; !ok {
			continue
		}
		if _, ok := s.selected[id]; !ok {
			s.selected[id] = struct{}{}
			changed = true
		}
	}
	if changed {
		s.notifyLocked(ChangeSelection, "")
	}
}

// Deselect removes ids from the selection.
func (s *Store) Deselect(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, id := range ids {
		if _, ok := s.selected[id]; ok {
			delete(s.selected, id)
			changed = true
		}
	}
	if changed {
		s.notifyLocked(ChangeSelection, "")
	}
}

// SetSelection replaces the selection with ids.
func (s *Store) SetSelection(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.images[id]; ok {
			s.selected[id] = struct{}{}
		}
	}
	s.notifyLocked(ChangeSelection, "")
}

// ClearSelection empties the selection.
func (s *Store) ClearSelection() {
	s.SetSelection()
}

// Selected returns the selected ids in image order.
func (s *Store) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.selected))
	for _, id := range s.order {
		if _, ok := s.selected[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// IsSelected reports whether id is selected.
func (s *Store) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.selected[id]
	return ok
}
