package widget

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/httpx"
	"github.com/dharsanguruparan/ChartSnap/internal/intake"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
)

// captureField is the multipart field desktop captures arrive in.
const captureField = "files"

type idsRequest struct {
	IDs []string `json:"ids"`
}

type imageList struct {
	Images   []model.Image `json:"images"`
	Selected []string      `json:"selected"`
	Version  uint64        `json:"version"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	caps, err := ws.Caps.Get(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, caps)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	httpx.RespondJSON(w, http.StatusOK, ws.Store.Counts())
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	imgs := ws.Store.List()
	if status := model.Status(r.URL.Query().Get("status")); status != "" {
		if !status.Valid() {
			s.respondErr(w, fmt.Errorf("%w: unknown status %q", errBadRequest, status))
			return
		}
		imgs = ws.Store.Filter(func(img *model.Image) bool { return img.Status == status })
	}
	httpx.RespondJSON(w, http.StatusOK, imageList{
		Images:   imgs,
		Selected: ws.Store.Selected(),
		Version:  ws.Store.Version(),
	})
}

// handleCapture streams the multipart body one part at a time, bounding
// each file by MaxUploadBytes, then hands the whole batch to intake.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	var uploads []intake.Upload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, "failed to read multipart data")
			return
		}
		if part.FormName() != captureField || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, s.opts.MaxUploadBytes+1))
		_ = part.Close()
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		if int64(len(data)) > s.opts.MaxUploadBytes {
			httpx.RespondError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit", part.FileName())
			return
		}
		uploads = append(uploads, intake.Upload{Name: part.FileName(), Data: data})
	}
	if len(uploads) == 0 {
		httpx.RespondError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	report, err := ws.Intake.Capture(r.Context(), uploads)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, report)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	img, err := ws.Store.Get(chi.URLParam(r, "imageID"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, img)
}

// handleImageContent serves the stored bytes, or the edited rendering when
// ?edited=true. Relayed images without local bytes redirect to their preview.
func (s *Server) handleImageContent(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	img, err := ws.Store.Get(chi.URLParam(r, "imageID"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if len(img.File) == 0 {
		if img.PreviewURL != "" {
			http.Redirect(w, r, img.PreviewURL, http.StatusFound)
			return
		}
		httpx.RespondError(w, http.StatusNotFound, "image has no content")
		return
	}
	data, contentType := img.File, img.ContentType
	if edited, _ := strconv.ParseBool(r.URL.Query().Get("edited")); edited && img.Metadata.Edits != nil && !img.Metadata.Edits.IsZero() {
		res, err := compress.Render(img.File, img.Metadata.Edits, s.manager.deps.Compress)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		data, contentType = res.Data, res.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "imageID")
	if removed := ws.Store.Remove(id); len(removed) == 0 {
		s.respondErr(w, fmt.Errorf("remove %s: %w", id, session.ErrNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveImages(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if err := httpx.DecodeJSON(w, r, s.opts.MaxJSONBytes, &req); err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string][]string{"removed": nonNil(ws.Store.Remove(req.IDs...))})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
