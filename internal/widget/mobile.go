package widget

import (
	"net/http"
	"time"

	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/handoff"
	"github.com/dharsanguruparan/ChartSnap/internal/httpx"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

type initiateMobileRequest struct {
	PatientID  string `json:"patientId"`
	FacilityID string `json:"facilityId"`
}

// mobileStatus is what the QR panel renders.
type mobileStatus struct {
	Session          *model.MobileSession `json:"session,omitempty"`
	Expired          bool                 `json:"expired"`
	RemainingSeconds int                  `json:"remainingSeconds"`
	State            handoff.State        `json:"state"`
	Error            string               `json:"error,omitempty"`
}

func (s *Server) status(ws *Workspace) mobileStatus {
	st := mobileStatus{Expired: ws.Handoff.Expired()}
	if sess, ok := ws.Handoff.Session(); ok {
		st.Session = &sess
	}
	st.RemainingSeconds = int(ws.Handoff.Remaining() / time.Second)
	state, err := ws.Handoff.State()
	st.State = state
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// handleInitiateMobile issues a QR session for the encounter and starts the
// live listener.
func (s *Server) handleInitiateMobile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req initiateMobileRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	_, err := ws.Handoff.Initiate(r.Context(), clinical.InitiateRequest{
		EncounterID: ws.EncounterID,
		PatientID:   req.PatientID,
		FacilityID:  req.FacilityID,
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.listen(ws)
	httpx.RespondJSON(w, http.StatusCreated, s.status(ws))
}

func (s *Server) handleRegenerateMobile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	if _, err := ws.Handoff.Regenerate(r.Context()); err != nil {
		s.respondErr(w, err)
		return
	}
	s.listen(ws)
	httpx.RespondJSON(w, http.StatusCreated, s.status(ws))
}

func (s *Server) handleMobileStatus(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	if _, ok := ws.Handoff.Session(); !ok {
		s.respondErr(w, handoff.ErrNoSession)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, s.status(ws))
}

// handleSyncMobile is the manual refresh offered when the live channel went
// stale. It also restarts the listener.
func (s *Server) handleSyncMobile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	added, err := ws.Handoff.Sync(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.listen(ws)
	httpx.RespondJSON(w, http.StatusOK, map[string][]string{"added": nonNil(added)})
}

// listen starts the relay listener when a subscriber is configured.
func (s *Server) listen(ws *Workspace) {
	if s.manager.deps.Subscriber == nil {
		return
	}
	ws.startListener(s.log)
}
