// Package api provides the HTTP API server for personachat.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/singleflight"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/identity"
	"github.com/personachat/personachat/internal/ledger"
	"github.com/personachat/personachat/internal/llm"
	"github.com/personachat/personachat/internal/logging"
	"github.com/personachat/personachat/internal/radial"
	"github.com/personachat/personachat/internal/session"
	"github.com/personachat/personachat/internal/storage"
	"github.com/personachat/personachat/internal/vectors"
)

//go:embed static/*
var staticFiles embed.FS

// Completer produces chat replies.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Rater rates a system prompt and returns the service's raw response body.
type Rater interface {
	RateRaw(ctx context.Context, system string) ([]byte, error)
}

// PersonaIndex stores and searches persona vectors.
type PersonaIndex interface {
	Upsert(ctx context.Context, snap core.PersonaSnapshot) error
	Similar(ctx context.Context, ratings []core.TraitRating, limit int) ([]vectors.Match, error)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	sessions     *session.Manager
	recorder     *ledger.Recorder
	participants *storage.ParticipantStore
	snapshots    *storage.SnapshotStore
	completer    Completer
	rater        Rater
	index        PersonaIndex
	pseudonyms   *identity.Pseudonymizer

	model           string
	maxTokens       int
	chart           radial.Options
	researcherToken string

	hub     *MonitorHub
	limiter *requestLimiter
	ratings singleflight.Group
}

// Config for the server
type Config struct {
	Addr           string
	AllowedOrigins []string

	Sessions      *session.Manager
	DB            *storage.DB
	Ledger        *ledger.Store
	Completer     Completer
	Rater         Rater
	Index         PersonaIndex            // Optional
	Pseudonymizer *identity.Pseudonymizer // Optional

	Model     string // Empty lets the completer pick its default
	MaxTokens int
	Chart     radial.Options

	RequestsPerMinute int // Upstream calls per participant; 0 disables limiting
	Burst             int

	ResearcherToken string // Bearer token for /ledger and /ws/monitor
	TrustProxy      bool   // Take the client address from proxy headers
}

// New creates a new API server
func New(cfg Config) *Server {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Chart == (radial.Options{}) {
		cfg.Chart = radial.Options{CenterLabel: "Persona", Animate: true, ShowPercentages: true}
	}

	studyID := cfg.Sessions.Settings().StudyID
	s := &Server{
		sessions:        cfg.Sessions,
		recorder:        ledger.NewRecorder(cfg.Ledger, studyID),
		participants:    storage.NewParticipantStore(cfg.DB),
		snapshots:       storage.NewSnapshotStore(cfg.DB),
		completer:       cfg.Completer,
		rater:           cfg.Rater,
		index:           cfg.Index,
		pseudonyms:      cfg.Pseudonymizer,
		model:           cfg.Model,
		maxTokens:       cfg.MaxTokens,
		chart:           cfg.Chart,
		researcherToken: cfg.ResearcherToken,
		hub:             NewMonitorHub(),
		limiter:         newRequestLimiter(cfg.RequestsPerMinute, cfg.Burst),
	}
	cfg.Ledger.Subscribe(s.hub.Publish)

	s.setupRouter(cfg.AllowedOrigins, cfg.TrustProxy)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// PruneLimiters forgets rate-limit buckets idle for maxIdle.
func (s *Server) PruneLimiters(maxIdle time.Duration) int {
	return s.limiter.Prune(maxIdle)
}

// Hub returns the monitor hub.
func (s *Server) Hub() *MonitorHub {
	return s.hub
}

// setupRouter configures all routes
func (s *Server) setupRouter(origins []string, trustProxy bool) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if trustProxy {
		r.Use(middleware.RealIP)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived, so outside the request timeout
		r.With(researcherOnly(s.researcherToken)).Get("/ws/monitor", s.hub.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(150 * time.Second))

			r.Get("/config", s.handleGetConfig)

			r.Post("/sessions", s.handleOpenSession)
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/avatar", s.handleSelectAvatar)
				r.Post("/survey", s.handleCompleteSurvey)
				r.Post("/prompt", s.handleSubmitPrompt)
				r.Post("/back", s.handleBackToConfig)
				r.Post("/phase/next", s.handleNextPhase)
				r.Post("/events", s.handleClientEvent)
				r.Post("/chat", s.handleChat)
				r.Post("/persona", s.handleCheckPersona)
			})

			r.Post("/persona/render", s.handleRenderPersona)
			r.Post("/persona/similar", s.handleSimilarPersonas)

			r.Post("/proxy/completion", s.handleCompletionProxy)
			r.Post("/proxy/persona", s.handleRatingProxy)

			r.Group(func(r chi.Router) {
				r.Use(researcherOnly(s.researcherToken))
				NewLedgerAPI(s.recorder.Store(), s.recorder.StudyID()).RegisterRoutes(r)
			})
		})
	})

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(fmt.Sprintf("failed to get static files: %v", err))
	}

	// The study UI; URL parameters are read by the page and forwarded on session open
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		data, err := fs.ReadFile(staticFS, "index.html")
		if err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
	})

	fileServer := http.FileServer(http.FS(staticFS))
	r.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	s.router = r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("API server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondErr maps a typed error to its status. Internal details stay in the log.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	status := kind.HTTPStatus()
	if errors.Is(err, core.ErrRateLimited) {
		status = http.StatusTooManyRequests
	}
	msg := err.Error()
	if kind == core.KindInternal {
		logging.Error("internal error: %v", err)
		msg = "internal error"
	}
	s.respondJSON(w, status, map[string]string{"error": msg, "kind": kind.String()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return core.Ef(core.KindValidation, "api.decode", "%w: invalid JSON", core.ErrInvalidInput)
	}
	return nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Len(),
		"monitors": s.hub.ClientCount(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	st := s.sessions.Settings()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"study_id":            st.StudyID,
		"avatars":             st.Avatars,
		"min_prompt_length":   st.MinPromptLength,
		"total_phases":        st.TotalPhases,
		"visualization_phase": st.VisualizationPhase,
		"task_duration_sec":   st.TaskDuration.Seconds(),
		"persona_check":       s.rater != nil,
		"similar_personas":    s.index != nil,
	})
}
