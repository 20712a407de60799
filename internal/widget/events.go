package widget

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dharsanguruparan/ChartSnap/internal/httpx"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
)

// snapshotEvent opens every stream so the client knows the version it
// starts from.
type snapshotEvent struct {
	Version uint64         `json:"version"`
	Counts  session.Counts `json:"counts"`
}

type changeEvent struct {
	session.Change
	Counts session.Counts `json:"counts"`
}

// handleEvents streams store changes as server-sent events. Changes are
// invalidation signals: a client that sees a version gap re-reads the
// image list.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	changes, stop := ws.Store.Watch(64)
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", snapshotEvent{Version: ws.Store.Version(), Counts: ws.Store.Counts()}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := writeEvent(w, string(c.Kind), changeEvent{Change: c, Counts: ws.Store.Counts()}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
