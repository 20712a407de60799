package widget

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/ChartSnap/internal/commit"
	"github.com/dharsanguruparan/ChartSnap/internal/httpx"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

type labelRequest struct {
	Label string `json:"label" validate:"max=256"`
}

type applyRequest struct {
	SourceID  string   `json:"sourceId" validate:"required"`
	TargetIDs []string `json:"targetIds"`
}

// decode reads a JSON body and runs struct validation when dst is a struct.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := httpx.DecodeJSON(w, r, s.opts.MaxJSONBytes, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	field, err := model.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	var concept model.CodedConcept
	if err := s.decode(w, r, &concept); err != nil {
		s.respondErr(w, err)
		return
	}
	if concept.IsZero() {
		s.respondErr(w, fmt.Errorf("%w: code is required", errBadRequest))
		return
	}
	img, err := ws.Tagger.SetField(chi.URLParam(r, "imageID"), field, &concept)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, img)
}

func (s *Server) handleClearField(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	field, err := model.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	img, err := ws.Tagger.SetField(chi.URLParam(r, "imageID"), field, nil)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, img)
}

func (s *Server) handleSetLabel(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req labelRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondErr(w, err)
		return
	}
	img, err := ws.Tagger.SetLabel(chi.URLParam(r, "imageID"), req.Label)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, img)
}

// handleSetEdits replaces the edit parameters; a JSON null clears them.
func (s *Server) handleSetEdits(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var edits *model.Edits
	if err := s.decode(w, r, &edits); err != nil {
		s.respondErr(w, err)
		return
	}
	img, err := ws.Tagger.SetEdits(chi.URLParam(r, "imageID"), edits)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, img)
}

// handleSetCommitOptions checks routing targets against the capability
// snapshot up front so the user hears about a bad recipient before commit.
func (s *Server) handleSetCommitOptions(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var opts *model.CommitOptions
	if err := s.decode(w, r, &opts); err != nil {
		s.respondErr(w, err)
		return
	}
	id := chi.URLParam(r, "imageID")
	if opts != nil {
		if err := s.validate.Struct(opts); err != nil {
			s.respondErr(w, err)
			return
		}
		caps, err := ws.Caps.Get(r.Context())
		if err != nil {
			s.respondErr(w, err)
			return
		}
		if err := checkRouting(caps, id, opts); err != nil {
			s.respondErr(w, err)
			return
		}
	}
	img, err := ws.Tagger.SetCommitOptions(id, opts)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, img)
}

func checkRouting(caps model.Capabilities, id string, opts *model.CommitOptions) error {
	if in := opts.Inbox; in != nil {
		if !caps.Features.InboxRouting {
			return &commit.ValidationError{Err: commit.ErrInboxDisabled, IDs: []string{id}}
		}
		if !caps.HasInboxRecipient(in.RecipientID) {
			return &commit.ValidationError{Err: commit.ErrUnknownRecipient, IDs: []string{id}}
		}
	}
	if t := opts.Task; t != nil {
		if !caps.Features.TaskRouting {
			return &commit.ValidationError{Err: commit.ErrTaskDisabled, IDs: []string{id}}
		}
		if !caps.HasTaskAssignee(t.AssigneeID) {
			return &commit.ValidationError{Err: commit.ErrUnknownAssignee, IDs: []string{id}}
		}
	}
	return nil
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	suggested, err := ws.Tagger.Suggestions(chi.URLParam(r, "imageID"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, suggested)
}

// handleApplyMetadata copies tags from the source onto the targets, or onto
// the current selection when no targets are given.
func (s *Server) handleApplyMetadata(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req applyRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondErr(w, err)
		return
	}
	targets := req.TargetIDs
	if len(targets) == 0 {
		targets = ws.Store.Selected()
	}
	applied, err := ws.Tagger.ApplyMetadataToMany(req.SourceID, targets)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string][]string{"applied": nonNil(applied)})
}

func (s *Server) handleMissingRequired(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	httpx.RespondJSON(w, http.StatusOK, idsRequest{IDs: nonNil(ws.Tagger.MissingRequired())})
}

type selectionRequest struct {
	Select   []string `json:"select"`
	Deselect []string `json:"deselect"`
}

func (s *Server) respondSelection(w http.ResponseWriter, ws *Workspace) {
	httpx.RespondJSON(w, http.StatusOK, idsRequest{IDs: nonNil(ws.Store.Selected())})
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	s.respondSelection(w, ws)
}

// handleSetSelection replaces the selection.
func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	ws.Store.SetSelection(req.IDs...)
	s.respondSelection(w, ws)
}

// handleSelect toggles individual ids.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	ws.Store.Select(req.Select...)
	ws.Store.Deselect(req.Deselect...)
	s.respondSelection(w, ws)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	ws.Store.ClearSelection()
	s.respondSelection(w, ws)
}
