// Package mobile is the relay's HTTP API: it issues QR pairing tokens,
// accepts phone uploads, and serves the authoritative per-encounter image
// listing.
package mobile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/httpx"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/queue"
	"github.com/dharsanguruparan/ChartSnap/internal/repository"
	"github.com/dharsanguruparan/ChartSnap/internal/signing"
)

// Sessions persists pairing sessions.
type Sessions interface {
	Create(ctx context.Context, sess *repository.MobileSession) error
	Get(ctx context.Context, id string) (*repository.MobileSession, error)
}

// Images persists upload records.
type Images interface {
	Create(ctx context.Context, img *repository.MobileImage) error
	ListReady(ctx context.Context, encounterID string) ([]repository.MobileImage, error)
}

// Objects stores raw uploads and serves normalized ones.
type Objects interface {
	UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	DownloadNormalized(ctx context.Context, objectKey string) ([]byte, error)
	PresignNormalizedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Enqueuer schedules normalization.
type Enqueuer interface {
	EnqueueNormalize(ctx context.Context, payload queue.NormalizePayload) error
}

// Options configures the relay API.
type Options struct {
	Address        string
	PublicURL      string
	APIToken       string
	MaxUploadBytes int64
	AllowedTypes   []string
	SessionTTL     time.Duration
	PreviewTTL     time.Duration
	QRSize         int
}

// Server exposes the relay endpoints.
type Server struct {
	opts     Options
	signer   *signing.Signer
	sessions Sessions
	images   Images
	objects  Objects
	queue    Enqueuer
	log      zerolog.Logger
	validate *validator.Validate
	newID    func() string
	now      func() time.Time
	tmpDir   string
}

// New constructs a Server.
func New(opts Options, signer *signing.Signer, sessions Sessions, images Images, objects Objects, q Enqueuer, log zerolog.Logger) *Server {
	if opts.QRSize <= 0 {
		opts.QRSize = 256
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Server{
		opts:     opts,
		signer:   signer,
		sessions: sessions,
		images:   images,
		objects:  objects,
		queue:    q,
		log:      log.With().Str("component", "relay-api").Logger(),
		validate: validator.New(),
		newID:    newImageID,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", s.opts.Address).Msg("relay api listening")
	return httpx.Serve(ctx, srv)
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpx.RequestLogger(s.log))
	r.Use(httpx.CORS)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httpx.BearerAuth(s.opts.APIToken))
			r.Post("/mobile-sessions", s.handleCreateSession)
			r.Get("/encounters/{encounterID}/mobile-images", s.handleListImages)
		})
		// Phones authenticate with the token in the path.
		r.Get("/m/{token}", s.handleUploadPage)
		r.Post("/m/{token}/images", s.handleUpload)
	})
	return r
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req clinical.InitiateRequest
	if err := httpx.DecodeJSON(w, r, 16<<10, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httpx.RespondError(w, http.StatusUnprocessableEntity, "invalid mobile session request", err.Error())
		return
	}
	tok, err := s.signer.Issue(s.opts.SessionTTL)
	if err != nil {
		s.log.Error().Err(err).Msg("issue token")
		httpx.RespondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	sess := &repository.MobileSession{
		ID:          tok.ID,
		EncounterID: req.EncounterID,
		PatientID:   req.PatientID,
		FacilityID:  req.FacilityID,
		ExpiresAt:   tok.ExpiresAt,
	}
	if err := s.sessions.Create(r.Context(), sess); err != nil {
		s.log.Error().Err(err).Msg("store session")
		httpx.RespondError(w, http.StatusInternalServerError, "failed to store session")
		return
	}
	uploadURL := s.opts.PublicURL + "/v1/m/" + tok.Value
	png, err := qrcode.Encode(uploadURL, qrcode.Medium, s.opts.QRSize)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, "failed to render qr code")
		return
	}
	s.log.Info().Str("encounter_id", req.EncounterID).Str("session_id", tok.ID).Msg("mobile session issued")
	httpx.RespondJSON(w, http.StatusCreated, clinical.InitiateResponse{
		Token:           tok.Value,
		MobileUploadURL: uploadURL,
		QRRenderable:    compress.DataURL("image/png", png),
		TTLSeconds:      int(s.opts.SessionTTL / time.Second),
	})
}

// session resolves a path token to an active session. Expired, revoked and
// unknown tokens are all unauthorized.
func (s *Server) session(r *http.Request) (*repository.MobileSession, error) {
	id, err := s.signer.Validate(chi.URLParam(r, "token"))
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !sess.Active(s.now()) {
		return nil, signing.ErrExpired
	}
	return sess, nil
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	encounterID := chi.URLParam(r, "encounterID")
	includeData := r.URL.Query().Get("include") == "data"
	rows, err := s.images.ListReady(ctx, encounterID)
	if err != nil {
		s.log.Error().Err(err).Str("encounter_id", encounterID).Msg("list mobile images")
		httpx.RespondError(w, http.StatusInternalServerError, "failed to list images")
		return
	}
	out := make([]model.MobileImage, 0, len(rows))
	for _, row := range rows {
		if row.NormalizedKey == nil {
			continue
		}
		img := model.MobileImage{
			ID:          row.ID,
			EncounterID: row.EncounterID,
			FileName:    row.FileName,
			ContentType: row.ContentType,
			Size:        row.Size,
			Width:       row.Width,
			Height:      row.Height,
			UploadedAt:  row.CreatedAt,
		}
		if row.Thumbnail != nil {
			img.Thumbnail = *row.Thumbnail
		}
		if img.PreviewURL, err = s.objects.PresignNormalizedURL(ctx, *row.NormalizedKey, s.opts.PreviewTTL); err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, "failed to sign preview url")
			return
		}
		if includeData {
			if img.Data, err = s.objects.DownloadNormalized(ctx, *row.NormalizedKey); err != nil {
				httpx.RespondError(w, http.StatusInternalServerError, "failed to read image")
				return
			}
		}
		out = append(out, img)
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{"images": out})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.session(r)
	if err != nil {
		httpx.RespondError(w, http.StatusUnauthorized, "mobile session expired or invalid")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()
	tmp, err := persistTemp(part, s.tmpDir, s.opts.MaxUploadBytes)
	if err != nil {
		httpx.RespondError(w, uploadStatus(err), err.Error())
		return
	}
	defer tmp.cleanup()
	if !s.allowed(tmp.contentType) {
		httpx.RespondError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported file type %s", tmp.contentType))
		return
	}

	id := s.newID()
	rawKey := fmt.Sprintf("raw/%s/%s%s", sess.EncounterID, id, tmp.ext())
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, "failed to rewind upload")
		return
	}
	if err := s.objects.UploadRaw(ctx, rawKey, tmp.f, tmp.size, tmp.contentType); err != nil {
		s.log.Error().Err(err).Msg("upload to storage failed")
		httpx.RespondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	img := &repository.MobileImage{
		ID:          id,
		SessionID:   sess.ID,
		EncounterID: sess.EncounterID,
		FileName:    tmp.filename,
		ContentType: tmp.contentType,
		RawKey:      rawKey,
		Size:        tmp.size,
	}
	if err := s.images.Create(ctx, img); err != nil {
		s.log.Error().Err(err).Msg("store image record")
		httpx.RespondError(w, http.StatusInternalServerError, "failed to store metadata")
		return
	}
	if err := s.queue.EnqueueNormalize(ctx, queue.NormalizePayload{
		ImageID:     id,
		EncounterID: sess.EncounterID,
		RawKey:      rawKey,
		FileName:    tmp.filename,
	}); err != nil {
		s.log.Error().Err(err).Msg("enqueue normalize")
		httpx.RespondError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(repository.ImageQueued),
	})
}

func (s *Server) allowed(contentType string) bool {
	for _, t := range s.opts.AllowedTypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}
