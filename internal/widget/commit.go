package widget

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/ChartSnap/internal/commit"
	"github.com/dharsanguruparan/ChartSnap/internal/httpx"
)

// commitIDs reads an optional {"ids": [...]} body. An absent body or empty
// list means the current selection.
func (s *Server) commitIDs(w http.ResponseWriter, r *http.Request, ws *Workspace) ([]string, error) {
	var req idsRequest
	if r.ContentLength != 0 {
		if err := s.decode(w, r, &req); err != nil {
			return nil, err
		}
	}
	if len(req.IDs) == 0 {
		return ws.Store.Selected(), nil
	}
	return req.IDs, nil
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	ids, err := s.commitIDs(w, r, ws)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	out, err := ws.Committer.Commit(r.Context(), ws.EncounterID, ids)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondOutcome(w, out)
}

// handleRetry retries the given ids, or every failed image when none are
// named.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if r.ContentLength != 0 {
		if err := s.decode(w, r, &req); err != nil {
			s.respondErr(w, err)
			return
		}
	}
	ids := req.IDs
	if len(ids) == 0 {
		for _, f := range ws.Committer.Failed() {
			ids = append(ids, f.ID)
		}
	}
	out, err := ws.Committer.Retry(r.Context(), ws.EncounterID, ids)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondOutcome(w, out)
}

// respondOutcome uses 207 when some files failed so clients can tell a
// partial batch from a clean one without parsing the body.
func (s *Server) respondOutcome(w http.ResponseWriter, out *commit.Outcome) {
	if out.Committed == nil {
		out.Committed = []string{}
	}
	if out.Failed == nil {
		out.Failed = []commit.Failure{}
	}
	status := http.StatusOK
	if len(out.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	httpx.RespondJSON(w, status, out)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string][]string{"removed": nonNil(ws.Committer.Discard(req.IDs))})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string][]commit.Failure{"failures": ws.Committer.Failed()})
}

func (s *Server) handleFailure(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "imageID")
	msg, err := ws.Committer.FailureMessage(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, commit.Failure{ID: id, Message: msg})
}
