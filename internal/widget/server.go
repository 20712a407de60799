// Package widget is the HTTP surface the embedded intake widget talks to.
// Each encounter gets its own workspace; every mutation goes through the
// session store so the SSE stream sees it.
package widget

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartSnap/internal/httpx"
)

// Options configures the widget server.
type Options struct {
	Address        string
	MaxUploadBytes int64
	// MaxJSONBytes bounds request bodies other than captures.
	MaxJSONBytes int64
	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration
}

// Server hosts the widget API.
type Server struct {
	opts     Options
	manager  *Manager
	log      zerolog.Logger
	validate *validator.Validate
}

// New constructs a Server.
func New(opts Options, manager *Manager, log zerolog.Logger) *Server {
	if opts.MaxJSONBytes <= 0 {
		opts.MaxJSONBytes = 1 << 20
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	return &Server{
		opts:     opts,
		manager:  manager,
		log:      log.With().Str("component", "widget").Logger(),
		validate: validator.New(),
	}
}

// Run serves until ctx is cancelled, then stops every mobile listener.
func (s *Server) Run(ctx context.Context) error {
	defer s.manager.Close()
	srv := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", s.opts.Address).Msg("widget listening")
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
	r.Route("/api/encounters/{encounterID}", func(r chi.Router) {
		r.Delete("/", s.handleRelease)
		r.Get("/capabilities", s.handleCapabilities)
		r.Get("/counts", s.handleCounts)
		r.Get("/events", s.handleEvents)

		r.Get("/images", s.handleListImages)
		r.Post("/images", s.handleCapture)
		r.Delete("/images", s.handleRemoveImages)
		r.Route("/images/{imageID}", func(r chi.Router) {
			r.Get("/", s.handleGetImage)
			r.Delete("/", s.handleRemoveImage)
			r.Get("/content", s.handleImageContent)
			r.Put("/metadata/{field}", s.handleSetField)
			r.Delete("/metadata/{field}", s.handleClearField)
			r.Put("/label", s.handleSetLabel)
			r.Put("/edits", s.handleSetEdits)
			r.Put("/commit-options", s.handleSetCommitOptions)
			r.Get("/suggestions", s.handleSuggestions)
			r.Get("/failure", s.handleFailure)
		})
		r.Post("/apply-metadata", s.handleApplyMetadata)
		r.Get("/missing-required", s.handleMissingRequired)

		r.Get("/selection", s.handleGetSelection)
		r.Put("/selection", s.handleSetSelection)
		r.Post("/selection", s.handleSelect)
		r.Delete("/selection", s.handleClearSelection)

		r.Post("/commit", s.handleCommit)
		r.Post("/retry", s.handleRetry)
		r.Post("/discard", s.handleDiscard)
		r.Get("/failures", s.handleFailures)

		r.Post("/mobile-session", s.handleInitiateMobile)
		r.Post("/mobile-session/regenerate", s.handleRegenerateMobile)
		r.Get("/mobile-session", s.handleMobileStatus)
		r.Post("/mobile-session/sync", s.handleSyncMobile)
	})
	return r
}

// workspace resolves the encounter's workspace or writes the error.
func (s *Server) workspace(w http.ResponseWriter, r *http.Request) (*Workspace, bool) {
	ws, err := s.manager.Workspace(r.Context(), chi.URLParam(r, "encounterID"))
	if err != nil {
		s.respondErr(w, err)
		return nil, false
	}
	return ws, true
}

// handleRelease closes the encounter's workspace without creating one.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Release(chi.URLParam(r, "encounterID")) {
		httpx.RespondError(w, http.StatusNotFound, "encounter is not open")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
